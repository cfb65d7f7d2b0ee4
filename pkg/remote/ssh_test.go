package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ghost/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// testServer is a minimal SSH server executing nothing: commands containing
// "fail" exit 1 with "boom" on stderr, others print "ok".
type testServer struct {
	listener net.Listener
	client   ssh.Signer

	mu       sync.Mutex
	commands []string
}

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{client: newSigner(t)}

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), s.client.PublicKey().Marshal()) {
				return nil, nil
			}
			return nil, assert.AnError
		},
	}
	cfg.AddHostKey(newSigner(t))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.listener = l
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go s.serve(conn, cfg)
		}
	}()
	return s
}

func (s *testServer) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range requests {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)

				s.mu.Lock()
				s.commands = append(s.commands, payload.Command)
				s.mu.Unlock()

				status := uint32(0)
				if strings.Contains(payload.Command, "fail") {
					_, _ = ch.Stderr().Write([]byte("boom\n"))
					status = 1
				} else {
					_, _ = ch.Write([]byte("ok\n"))
				}
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

func (s *testServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *testServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func TestSSHRunner(t *testing.T) {
	srv := startServer(t)
	runner, err := newSSHRunner(config.SSHConfig{
		User:    "admin",
		Port:    srv.port(),
		Timeout: 5 * time.Second,
	}, srv.client)
	require.NoError(t, err)
	host := Host{InstanceID: "i-1", Address: "127.0.0.1"}
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runner.Run(ctx, host, "sudo bootstrap.sh app", &out))
	assert.Equal(t, "ok\n", out.String())

	err = runner.Run(ctx, host, "fail please", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	assert.Equal(t, []string{"sudo bootstrap.sh app", "fail please"}, srv.Commands())
}

func TestSSHRunnerRejectedKey(t *testing.T) {
	srv := startServer(t)
	runner, err := newSSHRunner(config.SSHConfig{
		User:    "admin",
		Port:    srv.port(),
		Timeout: 5 * time.Second,
	}, newSigner(t))
	require.NoError(t, err)

	err = runner.Run(context.Background(), Host{Address: "127.0.0.1"}, "true", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake")
	assert.Empty(t, srv.Commands())
}

func TestNewSSHRunnerMissingKey(t *testing.T) {
	_, err := NewSSHRunner(config.SSHConfig{KeyPath: "/nonexistent/key"})
	assert.Error(t, err)
}

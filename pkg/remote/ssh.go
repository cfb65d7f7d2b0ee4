package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/ghost/pkg/config"
	"github.com/cuemby/ghost/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Executor applies and purges packages on the fleet of an app
type Executor interface {
	Deploy(ctx context.Context, app *types.App, module *types.Module, pkg string, strategy Strategy, logger zerolog.Logger) error
	Purge(ctx context.Context, app *types.App, pkg string, logger zerolog.Logger) error
}

// HostRunner runs one shell command on one host
type HostRunner interface {
	Run(ctx context.Context, host Host, command string, out io.Writer) error
}

// SSHExecutor runs the configured deploy and purge commands on every
// discovered host
type SSHExecutor struct {
	discoverer Discoverer
	runner     HostRunner
	cfg        config.SSHConfig
	rootPath   string
}

// NewSSHExecutor creates an executor. runner is usually an SSHRunner.
func NewSSHExecutor(discoverer Discoverer, runner HostRunner, cfg config.SSHConfig, rootPath string) *SSHExecutor {
	return &SSHExecutor{
		discoverer: discoverer,
		runner:     runner,
		cfg:        cfg,
		rootPath:   rootPath,
	}
}

func (e *SSHExecutor) render(tmpl string, app *types.App, module *types.Module, pkg string) string {
	var name, modulePath string
	if module != nil {
		name, modulePath = module.Name, module.Path
	}
	return strings.NewReplacer(
		"{{root}}", e.rootPath,
		"{{app}}", app.Name,
		"{{env}}", app.Env,
		"{{role}}", app.Role,
		"{{module}}", name,
		"{{path}}", modulePath,
		"{{package}}", pkg,
	).Replace(tmpl)
}

// Deploy runs the deploy command for module on every running instance
func (e *SSHExecutor) Deploy(ctx context.Context, app *types.App, module *types.Module, pkg string, strategy Strategy, logger zerolog.Logger) error {
	hosts, err := e.discoverer.Discover(ctx, app)
	if err != nil {
		return err
	}
	command := e.render(e.cfg.DeployCommand, app, module, pkg)
	logger.Info().
		Str("module", module.Name).
		Str("strategy", string(strategy)).
		Int("hosts", len(hosts)).
		Msg("Updating current instances")

	return fanOut(ctx, strategy, hosts, func(ctx context.Context, h Host) error {
		hostLogger := logger.With().Str("host", h.Address).Str("instance_id", h.InstanceID).Logger()
		hostLogger.Info().Msg("Deploying module on host")
		if err := e.runner.Run(ctx, h, command, hostLogger); err != nil {
			return fmt.Errorf("failed to deploy %s on %s: %w", module.Name, h.Address, err)
		}
		return nil
	})
}

// Purge removes a package from every running instance, one host at a time
func (e *SSHExecutor) Purge(ctx context.Context, app *types.App, pkg string, logger zerolog.Logger) error {
	hosts, err := e.discoverer.Discover(ctx, app)
	if err != nil {
		return err
	}
	command := e.render(e.cfg.PurgeCommand, app, nil, pkg)
	logger.Info().Str("package", pkg).Int("hosts", len(hosts)).Msg("Purging package")

	return fanOut(ctx, StrategySerial, hosts, func(ctx context.Context, h Host) error {
		if err := e.runner.Run(ctx, h, command, logger.With().Str("host", h.Address).Logger()); err != nil {
			return fmt.Errorf("failed to purge %s on %s: %w", pkg, h.Address, err)
		}
		return nil
	})
}

// SSHRunner runs commands over SSH with public key authentication
type SSHRunner struct {
	config *ssh.ClientConfig
	port   int
}

// NewSSHRunner loads the private key and host key policy from cfg. An empty
// known_hosts setting accepts any host key.
func NewSSHRunner(cfg config.SSHConfig) (*SSHRunner, error) {
	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key: %w", err)
	}
	return newSSHRunner(cfg, signer)
}

func newSSHRunner(cfg config.SSHConfig, signer ssh.Signer) (*SSHRunner, error) {
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		hostKeyCallback = cb
	}
	return &SSHRunner{
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.Timeout,
		},
		port: cfg.Port,
	}, nil
}

// Run dials host, runs command in a session and copies its combined output
// to out. A non-zero exit status is an error embedding stderr.
func (r *SSHRunner) Run(ctx context.Context, host Host, command string, out io.Writer) error {
	addr := net.JoinHostPort(host.Address, strconv.Itoa(r.port))

	dialer := net.Dialer{Timeout: r.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	if r.config.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(r.config.Timeout))
	}
	// NewClientConn closes conn on error
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, r.config)
	if err != nil {
		return fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	conn.SetDeadline(time.Time{})
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open ssh session on %s: %w", addr, err)
	}
	defer session.Close()

	var stderr bytes.Buffer
	if out == nil {
		out = io.Discard
	}
	session.Stdout = out
	session.Stderr = io.MultiWriter(out, &stderr)

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		client.Close()
		return ctx.Err()
	case err := <-done:
		if err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("%v: %s", err, msg)
			}
			return err
		}
		return nil
	}
}

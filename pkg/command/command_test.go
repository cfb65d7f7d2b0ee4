package command

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
}

func TestRun(t *testing.T) {
	requireBash(t)
	out := &bytes.Buffer{}
	r := NewRunner(zerolog.Nop()).WithOutput(out)

	res, err := r.Run(context.Background(), t.TempDir(), "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "echo hello", res.Command)
	assert.Equal(t, "hello\n", out.String())
}

func TestShellFailureEmbedsStderr(t *testing.T) {
	requireBash(t)
	r := NewRunner(zerolog.Nop())

	_, err := r.Shell(context.Background(), t.TempDir(), "echo boom >&2; exit 3", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Contains(t, err.Error(), "stderr: boom")
}

func TestShellEnv(t *testing.T) {
	requireBash(t)
	r := NewRunner(zerolog.Nop())

	res, err := r.Shell(context.Background(), "", `echo "$GHOST_MODULE"`, map[string]string{"GHOST_MODULE": "app"})
	require.NoError(t, err)
	assert.Equal(t, "app", strings.TrimSpace(res.Stdout))
}

func TestTimeout(t *testing.T) {
	requireBash(t)
	r := NewRunner(zerolog.Nop()).WithTimeout(100 * time.Millisecond)

	start := time.Now()
	_, err := r.Shell(context.Background(), "", "sleep 5", nil)
	require.Error(t, err)
	assert.Less(t, int64(time.Since(start)), int64(4*time.Second))
}

func TestLastBytes(t *testing.T) {
	assert.Equal(t, "abc", lastBytes(" abc \n", 10))
	assert.Equal(t, "...def", lastBytes("abcdef", 3))
}

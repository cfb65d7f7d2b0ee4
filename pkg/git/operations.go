package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Env vars that are allowed to be inherited from the OS
var allowedEnvVars = []string{
	// proxies; git follows the curl conventions, so HTTP_PROXY is intentionally missing
	"http_proxy", "https_proxy", "no_proxy", "HTTPS_PROXY", "NO_PROXY", "GIT_PROXY_COMMAND",
	// ssh keys and known hosts
	"HOME", "SSH_AUTH_SOCK", "GIT_SSH_COMMAND",
}

type gitCmdConfig struct {
	dir string
	env []string
	out io.Writer
}

func clone(ctx context.Context, workingDir, repoURL string, out io.Writer) error {
	args := []string{"clone", repoURL, workingDir}
	if err := execGitCmd(ctx, args, gitCmdConfig{out: out}); err != nil {
		return errors.Wrap(err, "git clone")
	}
	return nil
}

func clean(ctx context.Context, workingDir string, out io.Writer) error {
	args := []string{"clean", "-f"}
	if err := execGitCmd(ctx, args, gitCmdConfig{dir: workingDir, out: out}); err != nil {
		return errors.Wrap(err, "git clean")
	}
	return nil
}

func fetch(ctx context.Context, workingDir string, out io.Writer) error {
	args := []string{"fetch", "--tags", "origin"}
	if err := execGitCmd(ctx, args, gitCmdConfig{dir: workingDir, out: out}); err != nil {
		return errors.Wrap(err, "git fetch")
	}
	return nil
}

func pull(ctx context.Context, workingDir string, out io.Writer) error {
	args := []string{"pull", "--ff-only"}
	if err := execGitCmd(ctx, args, gitCmdConfig{dir: workingDir, out: out}); err != nil {
		return errors.Wrap(err, "git pull")
	}
	return nil
}

// onBranch reports whether HEAD points at a branch rather than a detached commit
func onBranch(ctx context.Context, workingDir string) bool {
	args := []string{"symbolic-ref", "-q", "HEAD"}
	return execGitCmd(ctx, args, gitCmdConfig{dir: workingDir}) == nil
}

func checkout(ctx context.Context, workingDir, ref string, out io.Writer) error {
	args := []string{"checkout", ref, "--"}
	if err := execGitCmd(ctx, args, gitCmdConfig{dir: workingDir, out: out}); err != nil {
		return errors.Wrap(err, fmt.Sprintf("git checkout %s", ref))
	}
	return nil
}

func shortHead(ctx context.Context, workingDir string) (string, error) {
	out := &bytes.Buffer{}
	args := []string{"rev-parse", "--short", "HEAD"}
	if err := execGitCmd(ctx, args, gitCmdConfig{dir: workingDir, out: out}); err != nil {
		return "", errors.Wrap(err, "git rev-parse")
	}
	return strings.TrimSpace(out.String()), nil
}

func execGitCmd(ctx context.Context, args []string, config gitCmdConfig) error {
	c := exec.CommandContext(ctx, "git", args...)

	if config.dir != "" {
		c.Dir = config.dir
	}
	c.Env = append(env(), config.env...)
	stdOutAndStdErr := &threadSafeBuffer{}
	c.Stdout = stdOutAndStdErr
	c.Stderr = stdOutAndStdErr
	if config.out != nil {
		c.Stdout = io.MultiWriter(c.Stdout, config.out)
	}

	err := c.Run()
	if err != nil {
		if len(stdOutAndStdErr.Bytes()) > 0 {
			err = errors.New(stdOutAndStdErr.String())
			msg := findErrorMessage(stdOutAndStdErr)
			if msg != "" {
				err = fmt.Errorf("%s, full output:\n %s", msg, err.Error())
			}
		}
	}

	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(ctx.Err(), fmt.Sprintf("running git command: %s %v", "git", args))
	} else if ctx.Err() == context.Canceled {
		return errors.Wrap(ctx.Err(), fmt.Sprintf("context was unexpectedly cancelled when running git command: %s %v", "git", args))
	}
	return err
}

func env() []string {
	env := []string{"GIT_TERMINAL_PROMPT=0"}

	// include allowed env vars from os
	for _, k := range allowedEnvVars {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}

	return env
}

func findErrorMessage(output io.Reader) string {
	sc := bufio.NewScanner(output)
	for sc.Scan() {
		switch {
		case strings.HasPrefix(sc.Text(), "fatal: "):
			return sc.Text()
		case strings.HasPrefix(sc.Text(), "error:"):
			return strings.TrimPrefix(sc.Text(), "error: ")
		}
	}
	return ""
}

type threadSafeBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *threadSafeBuffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *threadSafeBuffer) Read(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Read(p)
}

func (b *threadSafeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Bytes()
}

func (b *threadSafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Package command runs local commands on behalf of a job, logging their
// output to the job logger.
package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// maxErrorOutput caps the stderr excerpt embedded in errors
const maxErrorOutput = 512

// Result describes a finished command
type Result struct {
	Command  string
	Stdout   string
	Duration time.Duration
}

// Runner executes commands with an optional timeout
type Runner struct {
	// Timeout bounds every command (0 means no timeout)
	Timeout time.Duration

	// Out receives stdout and stderr as they are produced, when set
	Out io.Writer

	logger zerolog.Logger
}

// NewRunner creates a runner logging to logger
func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{logger: logger}
}

// WithTimeout sets the execution timeout
func (r *Runner) WithTimeout(timeout time.Duration) *Runner {
	r.Timeout = timeout
	return r
}

// WithOutput sets the writer receiving command output
func (r *Runner) WithOutput(out io.Writer) *Runner {
	r.Out = out
	return r
}

// Run executes name with args in dir
func (r *Runner) Run(ctx context.Context, dir, name string, args ...string) (*Result, error) {
	return r.run(ctx, dir, nil, name, args...)
}

// Shell executes script with bash in dir, adding env to the process
// environment
func (r *Runner) Shell(ctx context.Context, dir, script string, env map[string]string) (*Result, error) {
	var extra []string
	for k, v := range env {
		extra = append(extra, k+"="+v)
	}
	return r.run(ctx, dir, extra, "bash", "-c", script)
}

func (r *Runner) run(ctx context.Context, dir string, env []string, name string, args ...string) (*Result, error) {
	start := time.Now()
	display := strings.TrimSpace(name + " " + strings.Join(args, " "))

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	// Children holding the output pipes must not outlive a cancelled command
	cmd.WaitDelay = 2 * time.Second
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	// Capture output
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if r.Out != nil {
		cmd.Stdout = io.MultiWriter(&stdout, r.Out)
		cmd.Stderr = io.MultiWriter(&stderr, r.Out)
	}

	r.logger.Debug().Str("command", display).Str("dir", dir).Msg("Running command")
	err := cmd.Run()
	result := &Result{
		Command:  display,
		Stdout:   stdout.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		msg := fmt.Sprintf("command %q failed: %v", display, err)
		if tail := lastBytes(stderr.String(), maxErrorOutput); tail != "" {
			msg = fmt.Sprintf("%s, stderr: %s", msg, tail)
		}
		r.logger.Error().Err(err).Str("command", display).Dur("duration", result.Duration).Msg("Command failed")
		return result, fmt.Errorf("%s", msg)
	}

	r.logger.Debug().Str("command", display).Dur("duration", result.Duration).Msg("Command finished")
	return result, nil
}

func lastBytes(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}

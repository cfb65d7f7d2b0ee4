// Package git manages the local working copies of module source
// repositories by running the git binary.
package git

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
)

// DefaultRevision is checked out when a job names no revision
const DefaultRevision = "master"

// Client runs git operations. Command output is copied to Out when set.
type Client struct {
	Out io.Writer
}

// NewClient creates a client echoing git output to out
func NewClient(out io.Writer) *Client {
	return &Client{Out: out}
}

// Clone wipes dir, recreates it and clones repoURL into it
func (c *Client) Clone(ctx context.Context, repoURL, dir string) error {
	// A stale copy is removed; absence is fine
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "removing stale working copy %s", dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating working copy %s", dir)
	}
	return clone(ctx, dir, repoURL, c.Out)
}

// Clean removes untracked files
func (c *Client) Clean(ctx context.Context, dir string) error {
	return clean(ctx, dir, c.Out)
}

// Pull fast-forwards the current branch. A detached working copy, left by
// an earlier checkout of a tag or commit, only fetches.
func (c *Client) Pull(ctx context.Context, dir string) error {
	if !onBranch(ctx, dir) {
		return fetch(ctx, dir, c.Out)
	}
	return pull(ctx, dir, c.Out)
}

// Checkout checks out rev
func (c *Client) Checkout(ctx context.Context, dir, rev string) error {
	return checkout(ctx, dir, rev, c.Out)
}

// ShortHead returns the abbreviated commit hash of HEAD
func (c *Client) ShortHead(ctx context.Context, dir string) (string, error) {
	return shortHead(ctx, dir)
}

// Sync resets and updates the working copy, checks out rev (DefaultRevision
// when empty) and returns the short commit hash
func (c *Client) Sync(ctx context.Context, dir, rev string) (string, error) {
	if rev == "" {
		rev = DefaultRevision
	}
	if err := c.Clean(ctx, dir); err != nil {
		return "", err
	}
	if err := c.Pull(ctx, dir); err != nil {
		return "", err
	}
	if err := c.Checkout(ctx, dir, rev); err != nil {
		return "", err
	}
	// Switching from a detached head to a branch may land on a stale local branch
	if onBranch(ctx, dir) {
		if err := pull(ctx, dir, c.Out); err != nil {
			return "", err
		}
	}
	return c.ShortHead(ctx, dir)
}

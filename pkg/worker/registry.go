package worker

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/cuemby/ghost/pkg/cloud"
	"github.com/cuemby/ghost/pkg/config"
	"github.com/cuemby/ghost/pkg/storage"
	"github.com/cuemby/ghost/pkg/types"
	"github.com/rs/zerolog"
)

// Env is everything a command gets for one job
type Env struct {
	App     *types.App
	Job     *types.Job
	Config  *config.Config
	Store   storage.Store
	Gateway cloud.Gateway
	Logger  zerolog.Logger

	// Out is the job log file, nil when it could not be opened
	Out io.Writer

	executors ExecutorFactory
}

// CommandFunc runs a job command. A nil error reports done with the
// returned message; an errdefs abort reports aborted; anything else failed.
type CommandFunc func(ctx context.Context, env *Env) (string, error)

// Command is a registered job command
type Command struct {
	Name        string
	Description string
	Run         CommandFunc
}

// Registry maps job command names to their implementation
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds or replaces a command
func (r *Registry) Register(name, description string, run CommandFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = &Command{Name: name, Description: description, Run: run}
}

// Lookup returns the named command
func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Commands lists the registered commands by name
func (r *Registry) Commands() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

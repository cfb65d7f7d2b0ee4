package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/cuemby/ghost/pkg/cloud"
	"github.com/cuemby/ghost/pkg/config"
	"github.com/cuemby/ghost/pkg/errdefs"
	"github.com/cuemby/ghost/pkg/events"
	"github.com/cuemby/ghost/pkg/log"
	"github.com/cuemby/ghost/pkg/metrics"
	"github.com/cuemby/ghost/pkg/storage"
	"github.com/cuemby/ghost/pkg/types"
	"github.com/rs/zerolog"
)

// GatewayFunc returns the cloud gateway of an App
type GatewayFunc func(app *types.App) (cloud.Gateway, error)

// Worker executes jobs
type Worker struct {
	cfg       *config.Config
	store     storage.Store
	registry  *Registry
	gateways  GatewayFunc
	executors ExecutorFactory
	reporter  *Reporter
	logger    zerolog.Logger
}

// Config holds worker configuration
type Config struct {
	Settings *config.Config
	Store    storage.Store
	Broker   *events.Broker

	// Optional, defaulting to DefaultRegistry, the app's configured cloud
	// provider and SSHExecutors
	Registry  *Registry
	Gateways  GatewayFunc
	Executors ExecutorFactory
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		cfg:       cfg.Settings,
		store:     cfg.Store,
		registry:  cfg.Registry,
		gateways:  cfg.Gateways,
		executors: cfg.Executors,
		reporter:  NewReporter(cfg.Store, cfg.Broker),
		logger:    log.WithComponent("worker"),
	}
	if w.cfg == nil {
		w.cfg = config.Default()
	}
	if w.registry == nil {
		w.registry = DefaultRegistry()
	}
	if w.gateways == nil {
		provider := w.cfg.DefaultProvider
		w.gateways = func(app *types.App) (cloud.Gateway, error) {
			return cloud.ForApp(app, provider)
		}
	}
	if w.executors == nil {
		w.executors = SSHExecutors
	}
	return w
}

// Registry returns the worker's command registry
func (w *Worker) Registry() *Registry {
	return w.registry
}

// Submit queues job for the pool after checking its command is known
func (w *Worker) Submit(job *types.Job) error {
	if _, ok := w.registry.Lookup(job.Command); !ok {
		return fmt.Errorf("unknown command %q", job.Command)
	}
	return w.reporter.Queued(job)
}

// LogPath returns the log file of a job
func (w *Worker) LogPath(jobID string) string {
	return filepath.Join(w.cfg.LogDir, jobID+".log")
}

// Execute runs job to completion and reports exactly one terminal status,
// which it also returns with its message
func (w *Worker) Execute(ctx context.Context, job *types.Job) (types.JobStatus, string) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.JobDuration, job.Command)

	logger := w.logger.With().Str("job_id", job.ID).Str("app_id", job.AppID).Logger()

	cmd, ok := w.registry.Lookup(job.Command)
	if !ok {
		return w.finish(logger, job, types.JobStatusFailed, fmt.Sprintf("Unknown command: %s", job.Command))
	}

	app, err := w.store.GetApp(job.AppID)
	if err != nil {
		return w.finish(logger, job, types.JobStatusFailed, fmt.Sprintf("Failed to load app %s: %v", job.AppID, err))
	}
	if err := app.Validate(); err != nil {
		return w.finish(logger, job, types.JobStatusFailed, fmt.Sprintf("Invalid app %s: %v", job.AppID, err))
	}

	sink, closeSink := w.openLog(logger, job.ID)
	defer closeSink()
	logger = log.JobLogger(sink, job.ID, app.ID, job.Command)

	gateway, err := w.gateways(app)
	if err != nil {
		return w.finish(logger, job, types.JobStatusFailed, fmt.Sprintf("Failed to create cloud connection for %s: %v", app.FriendlyName(), err))
	}

	if err := w.reporter.Started(job); err != nil {
		logger.Error().Err(err).Msg("Failed to mark job started")
		return w.finish(logger, job, types.JobStatusFailed, err.Error())
	}
	logger.Info().Msg("STATE: Started")

	env := &Env{
		App:       app,
		Job:       job,
		Config:    w.cfg,
		Store:     w.store,
		Gateway:   gateway,
		Logger:    logger,
		Out:       sink,
		executors: w.executors,
	}
	msg, err := w.run(ctx, cmd, env)

	status := types.JobStatusDone
	switch {
	case err == nil:
	case errdefs.IsAbort(err):
		status, msg = types.JobStatusAborted, err.Error()
	default:
		status, msg = types.JobStatusFailed, err.Error()
	}
	return w.finish(logger, job, status, msg)
}

// run executes cmd, turning a panic into an error
func (w *Worker) run(ctx context.Context, cmd *Command, env *Env) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			env.Logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("Command panicked")
			msg, err = "", fmt.Errorf("%s panicked: %v", cmd.Name, r)
		}
	}()
	return cmd.Run(ctx, env)
}

func (w *Worker) finish(logger zerolog.Logger, job *types.Job, status types.JobStatus, msg string) (types.JobStatus, string) {
	event := logger.Info()
	if status != types.JobStatusDone {
		event = logger.Warn()
	}
	event.Str("status", string(status)).Msg(msg)

	if err := w.reporter.Finished(job, status, msg); err != nil {
		logger.Error().Err(err).Msg("Failed to report job status")
	}
	logger.Info().Msg("STATE: End")
	return status, msg
}

// openLog opens the job log file. Failing to open it only loses the file.
func (w *Worker) openLog(logger zerolog.Logger, jobID string) (io.Writer, func()) {
	noop := func() {}
	if w.cfg.LogDir == "" {
		return nil, noop
	}
	if err := os.MkdirAll(w.cfg.LogDir, 0755); err != nil {
		logger.Warn().Err(err).Msg("Failed to create log directory")
		return nil, noop
	}
	f, err := os.OpenFile(w.LogPath(jobID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to open job log file")
		return nil, noop
	}
	return f, func() { f.Close() }
}

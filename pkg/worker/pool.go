package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/ghost/pkg/log"
	"github.com/cuemby/ghost/pkg/metrics"
	"github.com/cuemby/ghost/pkg/storage"
	"github.com/cuemby/ghost/pkg/types"
	"github.com/rs/zerolog"
)

// Executor runs one job
type Executor interface {
	Execute(ctx context.Context, job *types.Job) (types.JobStatus, string)
}

// Pool polls the job store and runs queued jobs on a bounded number of
// goroutines. At most one job per app runs at a time; later jobs of a busy
// app stay queued until it is free.
type Pool struct {
	executor Executor
	jobs     storage.JobStore
	size     int
	interval time.Duration

	mu      sync.Mutex
	running map[string]string // app id -> job id
	wg      sync.WaitGroup

	logger zerolog.Logger
}

// NewPool creates a pool of size goroutines polling every interval
func NewPool(executor Executor, jobs storage.JobStore, size int, interval time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		executor: executor,
		jobs:     jobs,
		size:     size,
		interval: interval,
		running:  make(map[string]string),
		logger:   log.WithComponent("pool"),
	}
}

// Run polls until ctx is done, then waits for running jobs
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info().Int("workers", p.size).Dur("interval", p.interval).Msg("Worker pool started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ticker.C:
			p.poll(ctx)
		case <-ctx.Done():
			p.logger.Info().Msg("Worker pool stopping, waiting for running jobs")
			p.wg.Wait()
			return
		}
	}
}

// Running returns the number of jobs in flight
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

func (p *Pool) poll(ctx context.Context) {
	queued, err := p.jobs.ListJobs(types.JobStatusInit)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to list queued jobs")
		return
	}
	metrics.JobsQueued.Set(float64(len(queued)))

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, job := range queued {
		if len(p.running) >= p.size {
			return
		}
		if _, busy := p.running[job.AppID]; busy {
			continue
		}
		p.running[job.AppID] = job.ID
		metrics.WorkersBusy.Set(float64(len(p.running)))

		p.wg.Add(1)
		go p.execute(ctx, job)
	}
}

func (p *Pool) execute(ctx context.Context, job *types.Job) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.running, job.AppID)
		metrics.WorkersBusy.Set(float64(len(p.running)))
		p.mu.Unlock()
	}()

	p.logger.Info().Str("job_id", job.ID).Str("app_id", job.AppID).Str("command", job.Command).Msg("Dispatching job")
	status, _ := p.executor.Execute(ctx, job)
	p.logger.Info().Str("job_id", job.ID).Str("status", string(status)).Msg("Job finished")
}

package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ghost/pkg/storage"
	"github.com/cuemby/ghost/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedExecutor blocks every job until released and records overlaps
type gatedExecutor struct {
	store   storage.JobStore
	release chan struct{}

	mu         sync.Mutex
	active     map[string]int
	maxPerApp  int
	maxRunning int
	running    int
}

func (e *gatedExecutor) Execute(ctx context.Context, job *types.Job) (types.JobStatus, string) {
	e.mu.Lock()
	e.active[job.AppID]++
	e.running++
	if e.active[job.AppID] > e.maxPerApp {
		e.maxPerApp = e.active[job.AppID]
	}
	if e.running > e.maxRunning {
		e.maxRunning = e.running
	}
	e.mu.Unlock()

	if err := e.store.UpdateJobStatus(job.ID, types.JobStatusStarted, ""); err != nil {
		return types.JobStatusFailed, err.Error()
	}
	select {
	case <-e.release:
	case <-ctx.Done():
	}

	e.mu.Lock()
	e.active[job.AppID]--
	e.running--
	e.mu.Unlock()

	e.store.UpdateJobStatus(job.ID, types.JobStatusDone, "ok")
	return types.JobStatusDone, "ok"
}

func TestPoolSerializesJobsPerApp(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	var ids []string
	for _, appID := range []string{"app-a", "app-a", "app-b"} {
		job := &types.Job{AppID: appID, Command: "deploy"}
		require.NoError(t, store.CreateJob(job))
		ids = append(ids, job.ID)
	}

	exec := &gatedExecutor{store: store, release: make(chan struct{}), active: map[string]int{}}
	pool := NewPool(exec, store, 4, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	// First job of each app starts, the second job of app-a waits
	require.Eventually(t, func() bool { return pool.Running() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	queued, err := store.ListJobs(types.JobStatusInit)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "app-a", queued[0].AppID)

	close(exec.release)
	require.Eventually(t, func() bool {
		for _, id := range ids {
			job, err := store.GetJob(id)
			if err != nil || job.Status != types.JobStatusDone {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 1, exec.maxPerApp)
	assert.Equal(t, 2, exec.maxRunning)
}

func TestPoolRespectsSize(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	for _, appID := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateJob(&types.Job{AppID: appID, Command: "deploy"}))
	}

	exec := &gatedExecutor{store: store, release: make(chan struct{}), active: map[string]int{}}
	pool := NewPool(exec, store, 1, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return pool.Running() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, pool.Running())

	close(exec.release)
	cancel()
	<-done
	assert.Equal(t, 1, exec.maxRunning)
}

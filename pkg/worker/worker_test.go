package worker

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/cuemby/ghost/pkg/cloud"
	"github.com/cuemby/ghost/pkg/cloud/cloudtest"
	"github.com/cuemby/ghost/pkg/config"
	"github.com/cuemby/ghost/pkg/errdefs"
	"github.com/cuemby/ghost/pkg/events"
	"github.com/cuemby/ghost/pkg/manifest"
	"github.com/cuemby/ghost/pkg/remote"
	"github.com/cuemby/ghost/pkg/storage"
	"github.com/cuemby/ghost/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopExecutor struct {
	deployed []string
}

func (e *nopExecutor) Deploy(ctx context.Context, app *types.App, module *types.Module, pkg string, strategy remote.Strategy, logger zerolog.Logger) error {
	e.deployed = append(e.deployed, module.Name+"="+pkg)
	return nil
}

func (e *nopExecutor) Purge(ctx context.Context, app *types.App, pkg string, logger zerolog.Logger) error {
	return nil
}

type fixture struct {
	cfg      *config.Config
	store    *storage.BoltStore
	gateway  *cloudtest.Gateway
	broker   *events.Broker
	sub      events.Subscriber
	executor *nopExecutor
	app      *types.App
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.LogDir = t.TempDir()
	cfg.BucketS3 = "ghost-packages"
	cfg.BucketRegion = "us-east-1"

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	app := &types.App{
		Name:    "demo",
		Env:     "prod",
		Role:    "web",
		Region:  "eu-west-1",
		Modules: []*types.Module{{Name: "app", GitRepo: "git@example.com:demo/app.git", Path: "/var/www"}},
	}
	require.NoError(t, store.CreateApp(app))

	return &fixture{
		cfg:      cfg,
		store:    store,
		gateway:  cloudtest.NewGateway(),
		broker:   broker,
		sub:      broker.Subscribe(),
		executor: &nopExecutor{},
		app:      app,
	}
}

func (f *fixture) worker(registry *Registry) *Worker {
	return NewWorker(&Config{
		Settings: f.cfg,
		Store:    f.store,
		Broker:   f.broker,
		Registry: registry,
		Gateways: func(app *types.App) (cloud.Gateway, error) { return f.gateway, nil },
		Executors: func(cfg *config.Config, api ec2iface.EC2API) (remote.Executor, error) {
			return f.executor, nil
		},
	})
}

func (f *fixture) job(t *testing.T, command string, options ...string) *types.Job {
	job := &types.Job{AppID: f.app.ID, Command: command, Options: options}
	require.NoError(t, f.store.CreateJob(job))
	return job
}

func (f *fixture) stored(t *testing.T, id string) *types.Job {
	job, err := f.store.GetJob(id)
	require.NoError(t, err)
	return job
}

func (f *fixture) nextEvent(t *testing.T) *events.Event {
	t.Helper()
	select {
	case ev := <-f.sub:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register("ok", "", func(ctx context.Context, env *Env) (string, error) {
		env.Logger.Info().Msg("working on " + env.App.FriendlyName())
		return "all good", nil
	})
	r.Register("refuse", "", func(ctx context.Context, env *Env) (string, error) {
		return "", errdefs.Abort("not today")
	})
	r.Register("break", "", func(ctx context.Context, env *Env) (string, error) {
		return "", errdefs.Cloud("describe", errors.New("throttled"))
	})
	r.Register("explode", "", func(ctx context.Context, env *Env) (string, error) {
		var app *types.App
		return app.Name, nil
	})
	return r
}

func TestExecuteTerminalStatuses(t *testing.T) {
	tests := []struct {
		command string
		status  types.JobStatus
		message string
		event   events.EventType
	}{
		{"ok", types.JobStatusDone, "all good", events.EventJobDone},
		{"refuse", types.JobStatusAborted, "not today", events.EventJobAborted},
		{"break", types.JobStatusFailed, "describe: throttled", events.EventJobFailed},
		{"explode", types.JobStatusFailed, "explode panicked", events.EventJobFailed},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			f := newFixture(t)
			job := f.job(t, tt.command)

			status, msg := f.worker(testRegistry()).Execute(context.Background(), job)
			assert.Equal(t, tt.status, status)
			assert.Contains(t, msg, tt.message)

			stored := f.stored(t, job.ID)
			assert.Equal(t, tt.status, stored.Status)
			assert.Equal(t, msg, stored.Message)

			assert.Equal(t, events.EventJobStarted, f.nextEvent(t).Type)
			ev := f.nextEvent(t)
			assert.Equal(t, tt.event, ev.Type)
			assert.Equal(t, job.ID, ev.JobID)
		})
	}
}

func TestExecuteWritesJobLog(t *testing.T) {
	f := newFixture(t)
	job := f.job(t, "ok")
	w := f.worker(testRegistry())

	w.Execute(context.Background(), job)

	data, err := os.ReadFile(w.LogPath(job.ID))
	require.NoError(t, err)
	assert.Contains(t, string(data), "working on demo/prod/web")
	assert.Contains(t, string(data), "STATE: End")
}

func TestExecuteUnknownCommand(t *testing.T) {
	f := newFixture(t)
	job := f.job(t, "buildimage")

	status, msg := f.worker(testRegistry()).Execute(context.Background(), job)
	assert.Equal(t, types.JobStatusFailed, status)
	assert.Equal(t, "Unknown command: buildimage", msg)
	assert.Equal(t, types.JobStatusFailed, f.stored(t, job.ID).Status)
}

func TestExecuteMissingApp(t *testing.T) {
	f := newFixture(t)
	job := &types.Job{AppID: "nope", Command: "ok"}
	require.NoError(t, f.store.CreateJob(job))

	status, msg := f.worker(testRegistry()).Execute(context.Background(), job)
	assert.Equal(t, types.JobStatusFailed, status)
	assert.Contains(t, msg, "nope")
}

func TestExecuteInvalidApp(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.UpdateApp(f.app.ID, func(app *types.App) error {
		app.Modules = append(app.Modules, &types.Module{Name: "app"})
		return nil
	})
	require.NoError(t, err)
	job := f.job(t, "ok")

	status, msg := f.worker(testRegistry()).Execute(context.Background(), job)
	assert.Equal(t, types.JobStatusFailed, status)
	assert.Contains(t, msg, "duplicate module")
}

func TestExecuteGatewayFailure(t *testing.T) {
	f := newFixture(t)
	job := f.job(t, "ok")
	w := NewWorker(&Config{
		Settings: f.cfg,
		Store:    f.store,
		Registry: testRegistry(),
		Gateways: func(app *types.App) (cloud.Gateway, error) { return nil, errors.New("no credentials") },
	})

	status, msg := w.Execute(context.Background(), job)
	assert.Equal(t, types.JobStatusFailed, status)
	assert.Contains(t, msg, "no credentials")
}

func TestDefaultRegistry(t *testing.T) {
	var names []string
	for _, cmd := range DefaultRegistry().Commands() {
		names = append(names, cmd.Name)
		assert.NotEmpty(t, cmd.Description)
	}
	assert.Equal(t, []string{
		CommandDeploy,
		CommandDestroyAllInstances,
		CommandPrepareBlueGreen,
		CommandPurgeBlueGreen,
		CommandRedeploy,
		CommandSwapBlueGreen,
	}, names)
}

func TestDestroyAllInstancesJob(t *testing.T) {
	f := newFixture(t)
	f.gateway.EC2.AddInstance("i-1", "10.0.0.1", "running", map[string]string{"app_id": f.app.ID})
	job := f.job(t, CommandDestroyAllInstances)

	status, msg := f.worker(nil).Execute(context.Background(), job)
	assert.Equal(t, types.JobStatusDone, status, msg)
	assert.Equal(t, "Instance deletion OK: [demo]", msg)
	assert.Equal(t, []string{"i-1"}, f.gateway.EC2.Terminated)
}

func TestRedeployJob(t *testing.T) {
	f := newFixture(t)
	rec := &types.DeploymentRecord{AppID: f.app.ID, Module: "app", Package: "1600000000_app_0ld0ld0", ModulePath: "/var/www"}
	require.NoError(t, f.store.AppendDeployment(rec))
	job := f.job(t, CommandRedeploy, rec.ID)

	status, msg := f.worker(nil).Execute(context.Background(), job)
	assert.Equal(t, types.JobStatusDone, status, msg)
	assert.Equal(t, []string{"app=1600000000_app_0ld0ld0"}, f.executor.deployed)

	// The manifest lives in the bucket region
	assert.Contains(t, f.gateway.Regions(), "us-east-1")
	data, ok := f.gateway.S3.Object("ghost-packages", manifest.Key(f.cfg.RootPath, f.app))
	require.True(t, ok)
	assert.Equal(t, "app:1600000000_app_0ld0ld0:/var/www\n", string(data))
}

func TestRedeployJobMissingOptions(t *testing.T) {
	f := newFixture(t)
	job := f.job(t, CommandRedeploy)

	status, msg := f.worker(nil).Execute(context.Background(), job)
	assert.Equal(t, types.JobStatusFailed, status)
	assert.Equal(t, "Incorrect job request: missing options field deploy_id", msg)
}

func TestPrepareBlueGreenJobAborts(t *testing.T) {
	f := newFixture(t)
	f.cfg.BlueGreen.Enabled = true
	job := f.job(t, CommandPrepareBlueGreen)

	status, msg := f.worker(nil).Execute(context.Background(), job)
	assert.Equal(t, types.JobStatusAborted, status)
	assert.True(t, strings.HasPrefix(msg, "Blue/green preparation aborted for [demo/prod/web]"), msg)
	assert.Empty(t, f.gateway.AutoScaling.Calls())
}

// failingStatusStore refuses the status updates selected by fail
type failingStatusStore struct {
	*storage.BoltStore
	fail func(status types.JobStatus) bool
}

func (s *failingStatusStore) UpdateJobStatus(id string, status types.JobStatus, message string) error {
	if s.fail(status) {
		return errors.New("disk full")
	}
	return s.BoltStore.UpdateJobStatus(id, status, message)
}

func TestExecuteStartFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	job := f.job(t, "ok")
	ran := false
	registry := NewRegistry()
	registry.Register("ok", "", func(ctx context.Context, env *Env) (string, error) {
		ran = true
		return "", nil
	})
	store := &failingStatusStore{BoltStore: f.store, fail: func(s types.JobStatus) bool { return s == types.JobStatusStarted }}
	w := NewWorker(&Config{
		Settings: f.cfg,
		Store:    store,
		Broker:   f.broker,
		Registry: registry,
		Gateways: func(app *types.App) (cloud.Gateway, error) { return f.gateway, nil },
	})

	status, msg := w.Execute(context.Background(), job)
	assert.Equal(t, types.JobStatusFailed, status)
	assert.Contains(t, msg, "disk full")
	assert.False(t, ran)

	// The job leaves the queue instead of being dispatched again
	assert.Equal(t, types.JobStatusFailed, f.stored(t, job.ID).Status)
	queued, err := f.store.ListJobs(types.JobStatusInit)
	require.NoError(t, err)
	assert.Empty(t, queued)
	assert.Equal(t, events.EventJobFailed, f.nextEvent(t).Type)
}

func TestFinishedPublishesOnlyStoredStatus(t *testing.T) {
	f := newFixture(t)
	job := f.job(t, "ok")
	store := &failingStatusStore{BoltStore: f.store, fail: func(s types.JobStatus) bool { return s.Terminal() }}
	reporter := NewReporter(store, f.broker)

	require.NoError(t, reporter.Started(job))
	assert.Equal(t, events.EventJobStarted, f.nextEvent(t).Type)

	require.Error(t, reporter.Finished(job, types.JobStatusDone, "all good"))
	select {
	case ev := <-f.sub:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, types.JobStatusStarted, f.stored(t, job.ID).Status)
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)
	w := f.worker(testRegistry())

	job := &types.Job{AppID: f.app.ID, Command: "ok"}
	require.NoError(t, w.Submit(job))
	require.NotEmpty(t, job.ID)
	assert.Equal(t, types.JobStatusInit, f.stored(t, job.ID).Status)

	ev := f.nextEvent(t)
	assert.Equal(t, events.EventJobQueued, ev.Type)
	assert.Equal(t, job.ID, ev.JobID)

	assert.Error(t, w.Submit(&types.Job{AppID: f.app.ID, Command: "buildimage"}))
}

package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ghost/pkg/autoscale"
	"github.com/cuemby/ghost/pkg/cloud/cloudtest"
	"github.com/cuemby/ghost/pkg/errdefs"
	"github.com/cuemby/ghost/pkg/manifest"
	"github.com/cuemby/ghost/pkg/packager"
	"github.com/cuemby/ghost/pkg/remote"
	"github.com/cuemby/ghost/pkg/storage"
	"github.com/cuemby/ghost/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucket = "ghost-packages"

type fakeGit struct {
	mu      sync.Mutex
	clones  []string
	revs    []string
	commit  string
	syncErr error
}

func (g *fakeGit) Clone(ctx context.Context, repoURL, dir string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clones = append(g.clones, dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello"), 0644)
}

func (g *fakeGit) Sync(ctx context.Context, dir, rev string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.revs = append(g.revs, rev)
	if g.syncErr != nil {
		return "", g.syncErr
	}
	return g.commit, nil
}

type deployCall struct {
	module   string
	path     string
	pkg      string
	strategy remote.Strategy
}

type fakeExecutor struct {
	mu      sync.Mutex
	deploys []deployCall
	purges  []string
	err     error
	hook    func()
}

func (e *fakeExecutor) Deploy(ctx context.Context, app *types.App, module *types.Module, pkg string, strategy remote.Strategy, logger zerolog.Logger) error {
	e.mu.Lock()
	e.deploys = append(e.deploys, deployCall{module: module.Name, path: module.Path, pkg: pkg, strategy: strategy})
	hook := e.hook
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
	if e.err != nil {
		return e.err
	}
	return ctx.Err()
}

func (e *fakeExecutor) Purge(ctx context.Context, app *types.App, pkg string, logger zerolog.Logger) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.purges = append(e.purges, pkg)
	return nil
}

type recordingHook struct {
	phases []Phase
	fail   Phase
}

func (h *recordingHook) Run(ctx context.Context, phase Phase, app *types.App, module *types.Module, dir string) error {
	h.phases = append(h.phases, phase)
	if phase == h.fail {
		return errors.New("exit status 3")
	}
	return nil
}

type fixture struct {
	root     string
	app      *types.App
	git      *fakeGit
	executor *fakeExecutor
	hooks    *recordingHook
	s3       *cloudtest.S3
	asg      *cloudtest.AutoScaling
	store    *storage.BoltStore
	deployer *Deployer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	app := &types.App{
		Name:      "demo",
		Env:       "prod",
		Role:      "web",
		Region:    "eu-west-1",
		Autoscale: &types.Autoscale{Name: "asg-web", Min: 1, Max: 2, Current: 1},
		Modules: []*types.Module{
			{Name: "app", GitRepo: "git@example.com:demo/app.git", Path: "/var/www"},
			{Name: "conf", GitRepo: "git@example.com:demo/conf.git", Path: "/etc/demo"},
		},
	}
	require.NoError(t, store.CreateApp(app))

	f := &fixture{
		root:     t.TempDir(),
		app:      app,
		git:      &fakeGit{commit: "abc1234"},
		executor: &fakeExecutor{},
		hooks:    &recordingHook{},
		s3:       cloudtest.NewS3(),
		asg:      cloudtest.NewAutoScaling(),
		store:    store,
	}
	f.asg.AddGroup("asg-web", 1, 2, 1, 1)

	f.deployer = NewDeployer(Config{
		Git:       f.git,
		Packager:  packager.New(f.s3, bucket, f.root).WithTempDir(t.TempDir()),
		Scaler:    autoscale.NewController(f.asg),
		Manifests: manifest.NewS3Store(f.s3, bucket),
		Executor:  f.executor,
		History:   store,
		Modules:   store,
		Hooks:     f.hooks,
		RootPath:  f.root,
		Retention: 5,
	}).WithLogger(zerolog.Nop())
	f.deployer.now = func() time.Time { return time.Unix(1700000000, 0) }
	return f
}

func (f *fixture) reload(t *testing.T) *types.App {
	app, err := f.store.GetApp(f.app.ID)
	require.NoError(t, err)
	return app
}

func (f *fixture) readManifest(t *testing.T, app *types.App) *manifest.Manifest {
	m, err := manifest.NewS3Store(f.s3, bucket).Read(context.Background(), manifest.Key(f.root, app))
	require.NoError(t, err)
	return m
}

func deployJob(id string, mods ...*types.ModuleSelector) *types.Job {
	return &types.Job{ID: id, Command: "deploy", Modules: mods}
}

func TestDeployFirstModule(t *testing.T) {
	f := newFixture(t)
	job := deployJob("job-1", &types.ModuleSelector{Name: "app", Rev: "v1.2"})

	msg, err := f.deployer.Deploy(context.Background(), f.app, job)
	require.NoError(t, err)
	assert.Contains(t, msg, "Deployment OK")
	assert.Contains(t, msg, "app@abc1234")

	assert.Equal(t, []string{WorkingDir(f.root, f.app, "app")}, f.git.clones)
	assert.Equal(t, []string{"v1.2"}, f.git.revs)

	pkg := "1700000000_app_abc1234"
	_, ok := f.s3.Object(bucket, packager.New(f.s3, bucket, f.root).Key(f.app, "app", pkg))
	assert.True(t, ok, "package uploaded")

	entry, ok := f.readManifest(t, f.app).Get("app")
	require.True(t, ok)
	assert.Equal(t, manifest.Entry{Name: "app", Package: pkg, Path: "/var/www"}, entry)

	require.Len(t, f.executor.deploys, 1)
	assert.Equal(t, deployCall{module: "app", path: "/var/www", pkg: pkg, strategy: remote.StrategySerial}, f.executor.deploys[0])

	records, err := f.store.ListDeployments(f.app.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "job-1", records[0].JobID)
	assert.Equal(t, "abc1234", records[0].Commit)
	assert.Equal(t, pkg, records[0].Package)
	assert.Equal(t, "/var/www", records[0].ModulePath)
	assert.Equal(t, int64(1700000000), records[0].Timestamp)

	assert.True(t, f.reload(t).Module("app").Initialized)
	assert.Equal(t, 1, f.asg.Called("SuspendProcesses"))
	assert.Equal(t, 1, f.asg.Called("ResumeProcesses"))
	assert.False(t, f.asg.Suspended["asg-web"])
	assert.Equal(t, []Phase{PhasePreDeploy, PhasePostDeploy}, f.hooks.phases)
}

func TestDeployDoesNotCloneTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.deployer.Deploy(ctx, f.app, deployJob("job-1", &types.ModuleSelector{Name: "app"}))
	require.NoError(t, err)

	f.deployer.now = func() time.Time { return time.Unix(1700000100, 0) }
	_, err = f.deployer.Deploy(ctx, f.reload(t), deployJob("job-2", &types.ModuleSelector{Name: "app"}))
	require.NoError(t, err)

	assert.Len(t, f.git.clones, 1)
	assert.Equal(t, []string{"", ""}, f.git.revs)

	records, err := f.store.ListDeployments(f.app.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)

	entry, _ := f.readManifest(t, f.app).Get("app")
	assert.Equal(t, "1700000100_app_abc1234", entry.Package)
}

func TestDeployClonesBeforeTouchingModules(t *testing.T) {
	f := newFixture(t)
	f.git.syncErr = errors.New("unknown revision")

	_, err := f.deployer.Deploy(context.Background(), f.app, deployJob("job-1",
		&types.ModuleSelector{Name: "app"},
		&types.ModuleSelector{Name: "conf"},
	))
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindGit))

	// Both modules were cloned although the first sync failed
	assert.Len(t, f.git.clones, 2)
	assert.Len(t, f.git.revs, 1)
	assert.Equal(t, 0, f.asg.Called("SuspendProcesses"))
	assert.Equal(t, 0, f.s3.Called("PutObject"))
}

func TestDeploySkipsUnknownModules(t *testing.T) {
	f := newFixture(t)

	_, err := f.deployer.Deploy(context.Background(), f.app, deployJob("job-1",
		&types.ModuleSelector{Name: "ghost"},
		&types.ModuleSelector{Name: "conf"},
	))
	require.NoError(t, err)
	require.Len(t, f.executor.deploys, 1)
	assert.Equal(t, "conf", f.executor.deploys[0].module)
}

func TestDeployNoModules(t *testing.T) {
	f := newFixture(t)

	msg, err := f.deployer.Deploy(context.Background(), f.app, deployJob("job-1", &types.ModuleSelector{Name: "ghost"}))
	require.NoError(t, err)
	assert.Contains(t, msg, "no module to deploy")
	assert.Empty(t, f.asg.Calls())
}

func TestDeployResumesAutoscaleOnFanOutFailure(t *testing.T) {
	f := newFixture(t)
	f.executor.err = errors.New("10.0.0.2: exit status 1")

	_, err := f.deployer.Deploy(context.Background(), f.app, deployJob("job-1",
		&types.ModuleSelector{Name: "app"},
		&types.ModuleSelector{Name: "conf"},
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 1")

	assert.Equal(t, 1, f.asg.Called("SuspendProcesses"))
	assert.Equal(t, 1, f.asg.Called("ResumeProcesses"))
	assert.False(t, f.asg.Suspended["asg-web"])

	// The second module is never touched and nothing is recorded
	assert.Len(t, f.executor.deploys, 1)
	records, err := f.store.ListDeployments(f.app.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, []Phase{PhasePreDeploy}, f.hooks.phases)
}

func TestDeployResumesAutoscaleOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.executor.hook = cancel

	_, err := f.deployer.Deploy(ctx, f.app, deployJob("job-1", &types.ModuleSelector{Name: "app"}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, f.asg.Called("ResumeProcesses"))
	assert.False(t, f.asg.Suspended["asg-web"])
}

func TestDeployResumeFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	f.asg.FailOn("ResumeProcesses", errors.New("throttled"))

	_, err := f.deployer.Deploy(context.Background(), f.app, deployJob("job-1", &types.ModuleSelector{Name: "app"}))
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindCloud))

	records, _ := f.store.ListDeployments(f.app.ID)
	assert.Empty(t, records)
}

func TestDeployPreHookFailure(t *testing.T) {
	f := newFixture(t)
	f.hooks.fail = PhasePreDeploy

	_, err := f.deployer.Deploy(context.Background(), f.app, deployJob("job-1", &types.ModuleSelector{Name: "app"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pre-deploy of module app")
	assert.Equal(t, 0, f.s3.Called("PutObject"))
	assert.Equal(t, 0, f.asg.Called("SuspendProcesses"))
}

func TestDeployPurgesOldPackages(t *testing.T) {
	f := newFixture(t)
	f.deployer.retention = 1
	p := packager.New(f.s3, bucket, f.root)
	old := packager.Name(1600000000, "app", "0ld0ld0")
	f.s3.Put(bucket, p.Key(f.app, "app", old), []byte("old"))

	_, err := f.deployer.Deploy(context.Background(), f.app, deployJob("job-1", &types.ModuleSelector{Name: "app"}))
	require.NoError(t, err)

	_, ok := f.s3.Object(bucket, p.Key(f.app, "app", old))
	assert.False(t, ok)
	assert.Equal(t, []string{old}, f.executor.purges)
}

func TestDeployIgnoresPurgeFailure(t *testing.T) {
	f := newFixture(t)
	f.s3.FailOn("ListObjectsV2", errors.New("access denied"))

	_, err := f.deployer.Deploy(context.Background(), f.app, deployJob("job-1", &types.ModuleSelector{Name: "app"}))
	require.NoError(t, err)

	records, _ := f.store.ListDeployments(f.app.ID)
	assert.Len(t, records, 1)
}

func TestDeployWithoutAutoscale(t *testing.T) {
	f := newFixture(t)
	f.app.Autoscale = nil

	_, err := f.deployer.Deploy(context.Background(), f.app, deployJob("job-1", &types.ModuleSelector{Name: "app"}))
	require.NoError(t, err)
	assert.Empty(t, f.asg.Calls())
}

func TestDeployRefusesWorkingCopyOutsideRoot(t *testing.T) {
	f := newFixture(t)
	victim := filepath.Join(filepath.Dir(f.root), "victim")
	require.NoError(t, os.MkdirAll(victim, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(victim, "keep"), []byte("x"), 0644))

	// Records loaded without validation still cannot reach outside the root
	f.app.Modules = append(f.app.Modules, &types.Module{Name: "../../../../victim", GitRepo: "git@example.com:demo/x.git"})
	job := deployJob("job-1", &types.ModuleSelector{Name: "../../../../victim"})

	_, err := f.deployer.Deploy(context.Background(), f.app, job)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindGit))
	assert.Contains(t, err.Error(), "outside")
	assert.Empty(t, f.git.clones)
	assert.FileExists(t, filepath.Join(victim, "keep"))
	assert.Empty(t, f.executor.deploys)
}

package deploy

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cuemby/ghost/pkg/errdefs"
	"github.com/cuemby/ghost/pkg/log"
	"github.com/cuemby/ghost/pkg/manifest"
	"github.com/cuemby/ghost/pkg/metrics"
	"github.com/cuemby/ghost/pkg/packager"
	"github.com/cuemby/ghost/pkg/remote"
	"github.com/cuemby/ghost/pkg/types"
	"github.com/rs/zerolog"
)

// SourceControl manages module working copies
type SourceControl interface {
	Clone(ctx context.Context, repoURL, dir string) error
	Sync(ctx context.Context, dir, rev string) (string, error)
}

// Packager builds, uploads and purges module packages
type Packager interface {
	Package(ctx context.Context, app *types.App, module *types.Module, dir string, ts int64, commit string) (string, error)
	Purge(ctx context.Context, app *types.App, module string, keep int) ([]string, error)
}

// Scaler suspends and resumes the scaling processes of a named group. Both
// are no-ops for an empty name.
type Scaler interface {
	Suspend(ctx context.Context, name string) error
	Resume(ctx context.Context, name string) error
}

// ModuleStore persists the initialized flag of modules
type ModuleStore interface {
	MarkModuleInitialized(appID, module string) error
}

// HistoryStore is the deployment record log
type HistoryStore interface {
	AppendDeployment(rec *types.DeploymentRecord) error
	GetDeployment(id string) (*types.DeploymentRecord, error)
}

// Config wires a Deployer
type Config struct {
	Git       SourceControl
	Packager  Packager
	Scaler    Scaler
	Manifests manifest.Store
	Executor  remote.Executor
	History   HistoryStore
	Modules   ModuleStore
	Hooks     Hook

	RootPath  string
	Retention int
}

// Deployer runs the module deployment pipeline
type Deployer struct {
	git       SourceControl
	packager  Packager
	scaler    Scaler
	manifests manifest.Store
	executor  remote.Executor
	history   HistoryStore
	modules   ModuleStore
	hooks     Hook

	rootPath  string
	retention int
	logger    zerolog.Logger
	now       func() time.Time
}

// NewDeployer creates a deployer. A nil Hooks runs no hook.
func NewDeployer(cfg Config) *Deployer {
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = NopHook{}
	}
	return &Deployer{
		git:       cfg.Git,
		packager:  cfg.Packager,
		scaler:    cfg.Scaler,
		manifests: cfg.Manifests,
		executor:  cfg.Executor,
		history:   cfg.History,
		modules:   cfg.Modules,
		hooks:     hooks,
		rootPath:  cfg.RootPath,
		retention: cfg.Retention,
		logger:    log.WithComponent("deploy"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithLogger returns a copy of the deployer logging to logger
func (d *Deployer) WithLogger(logger zerolog.Logger) *Deployer {
	cp := *d
	cp.logger = logger
	return &cp
}

// WorkingDir returns the local working copy of a module
func WorkingDir(rootPath string, app *types.App, module string) string {
	return packager.ModulePath(rootPath, app, module)
}

// workingDir returns the module working copy, refusing any path that
// escapes the root directory since Clone wipes it
func (d *Deployer) workingDir(app *types.App, module string) (string, error) {
	dir := WorkingDir(d.rootPath, app, module)
	root := path.Clean(d.rootPath)
	if !strings.HasPrefix(dir, strings.TrimSuffix(root, "/")+"/") {
		return "", fmt.Errorf("module %s: working copy %s is outside %s", module, dir, root)
	}
	return dir, nil
}

// resolveModules returns the app modules named by the job, in job order.
// Unknown names are skipped.
func resolveModules(app *types.App, job *types.Job) []*types.Module {
	var modules []*types.Module
	for _, sel := range job.Modules {
		if m := app.Module(sel.Name); m != nil {
			modules = append(modules, m)
		}
	}
	return modules
}

func revision(job *types.Job, module string) string {
	for _, sel := range job.Modules {
		if sel.Name == module {
			return sel.Rev
		}
	}
	return ""
}

// Deploy deploys the modules named by job. Uninitialized modules are all
// cloned first; then every module goes through sync, package, publish and
// fan-out. The first failure stops the job.
func (d *Deployer) Deploy(ctx context.Context, app *types.App, job *types.Job) (string, error) {
	modules := resolveModules(app, job)

	for _, m := range modules {
		if m.Initialized {
			continue
		}
		if err := d.initModule(ctx, app, m); err != nil {
			return "", err
		}
	}

	var deployed []string
	for _, m := range modules {
		commit, err := d.deployModule(ctx, app, job, m)
		if err != nil {
			return "", err
		}
		deployed = append(deployed, fmt.Sprintf("%s@%s", m.Name, commit))
	}

	if len(deployed) == 0 {
		return fmt.Sprintf("Deployment OK: [%s] no module to deploy", app.FriendlyName()), nil
	}
	return fmt.Sprintf("Deployment OK: [%s] %s", app.FriendlyName(), strings.Join(deployed, ", ")), nil
}

func (d *Deployer) initModule(ctx context.Context, app *types.App, m *types.Module) error {
	dir, err := d.workingDir(app, m.Name)
	if err != nil {
		return errdefs.Git(fmt.Sprintf("Init module: %s failed", m.Name), err)
	}
	d.logger.Info().Str("module", m.Name).Str("path", dir).Msg("Git clone")
	if err := d.git.Clone(ctx, m.GitRepo, dir); err != nil {
		return errdefs.Git(fmt.Sprintf("Init module: %s failed", m.Name), err)
	}
	if err := d.modules.MarkModuleInitialized(app.ID, m.Name); err != nil {
		return fmt.Errorf("failed to mark module %s initialized: %w", m.Name, err)
	}
	m.Initialized = true
	return nil
}

func (d *Deployer) deployModule(ctx context.Context, app *types.App, job *types.Job, m *types.Module) (string, error) {
	logger := d.logger.With().Str("module", m.Name).Logger()
	ts := d.now().Unix()
	dir, err := d.workingDir(app, m.Name)
	if err != nil {
		return "", err
	}

	rev := revision(job, m.Name)
	logger.Info().Str("revision", rev).Msg("Syncing working copy")
	commit, err := d.git.Sync(ctx, dir, rev)
	if err != nil {
		return "", errdefs.Git(fmt.Sprintf("sync module %s", m.Name), err)
	}

	if err := d.hooks.Run(ctx, PhasePreDeploy, app, m, dir); err != nil {
		return "", fmt.Errorf("pre-deploy of module %s failed: %w", m.Name, err)
	}

	pkg, err := d.packager.Package(ctx, app, m, dir, ts, commit)
	if err != nil {
		return "", err
	}

	if err := d.publish(ctx, app, m, pkg, logger); err != nil {
		return "", err
	}

	if err := d.hooks.Run(ctx, PhasePostDeploy, app, m, dir); err != nil {
		return "", fmt.Errorf("post-deploy of module %s failed: %w", m.Name, err)
	}

	d.purge(ctx, app, m, logger)

	rec := &types.DeploymentRecord{
		AppID:      app.ID,
		JobID:      job.ID,
		Module:     m.Name,
		Commit:     commit,
		Package:    pkg,
		ModulePath: m.Path,
		Timestamp:  ts,
	}
	if err := d.history.AppendDeployment(rec); err != nil {
		return "", fmt.Errorf("failed to record deployment of %s: %w", m.Name, err)
	}
	metrics.DeploymentsTotal.WithLabelValues(m.Name).Inc()
	logger.Info().Str("package", pkg).Str("commit", commit).Str("deploy_id", rec.ID).Msg("Module deployed")
	return commit, nil
}

// publish suspends autoscaling, writes the manifest entry and fans the
// package out. Once suspended, autoscaling is resumed on every exit path,
// even when ctx is cancelled.
func (d *Deployer) publish(ctx context.Context, app *types.App, m *types.Module, pkg string, logger zerolog.Logger) (err error) {
	group := app.AutoscaleName()
	if err := d.scaler.Suspend(ctx, group); err != nil {
		return err
	}
	defer func() {
		rerr := d.scaler.Resume(context.WithoutCancel(ctx), group)
		if rerr == nil {
			return
		}
		if err == nil {
			err = rerr
			return
		}
		logger.Error().Err(rerr).Str("autoscale", group).Msg("Failed to resume autoscaling")
	}()

	key := manifest.Key(d.rootPath, app)
	logger.Info().Str("key", key).Str("package", pkg).Msg("Uploading manifest")
	if _, err := manifest.Publish(ctx, d.manifests, key, m.Name, pkg, m.Path); err != nil {
		return err
	}

	return d.executor.Deploy(ctx, app, m, pkg, remote.StrategySerial, logger)
}

// purge drops packages beyond the retention from storage and hosts. It only
// logs failures.
func (d *Deployer) purge(ctx context.Context, app *types.App, m *types.Module, logger zerolog.Logger) {
	purged, err := d.packager.Purge(ctx, app, m.Name, d.retention)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to purge old packages")
		return
	}
	for _, pkg := range purged {
		if err := d.executor.Purge(ctx, app, pkg, logger); err != nil && !errors.Is(err, errdefs.ErrNoInstances) {
			logger.Warn().Err(err).Str("package", pkg).Msg("Failed to purge package on instances")
		}
	}
}

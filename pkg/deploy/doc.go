/*
Package deploy implements the module deployment pipeline of Ghost.

A deploy job names one or more modules of an App, each with an optional git
revision. The Deployer turns every named module into a versioned package,
publishes it in the App's manifest and pushes it to the running fleet.

# Architecture

	┌──────────────────── MODULE DEPLOYMENT ─────────────────────┐
	│                                                              │
	│   job{modules: [{name, rev}]}                                │
	│        │                                                     │
	│        ▼                                                     │
	│   1. clone every uninitialized module (once per module)      │
	│        │                                                     │
	│        ▼   for each module, in job order                     │
	│   2. sync working copy to rev (default master) → commit      │
	│   3. pre_deploy hook                                         │
	│   4. package + upload  {ts}_{module}_{commit}.tar.gz         │
	│   5. suspend autoscaling ─────────────┐                      │
	│   6. upsert manifest entry            │ resumed on every     │
	│   7. run deploy command on instances  │ exit path            │
	│   8. resume autoscaling ◄─────────────┘                      │
	│   9. post_deploy hook                                        │
	│  10. purge packages beyond retention                         │
	│  11. append deployment record                                │
	│                                                              │
	└──────────────────────────────────────────────────────────────┘

The first failing step stops the job; modules after it are not touched and
no record is written for the failing module.

# Autoscaling

Autoscaling is suspended while the manifest and the fleet are out of sync so
that no instance bootstraps from a half written manifest. Once suspend has
succeeded, resume runs whatever happens next, including job cancellation:
the resume call uses a context detached from the job's cancellation.

# Redeploy

Redeploy replays a DeploymentRecord: the recorded package is written back to
the manifest and the deploy command runs again on the fleet, serially or in
parallel. Nothing is cloned, packaged or recorded.

# Usage

	deployer := deploy.NewDeployer(deploy.Config{
		Git:       git.NewClient(out),
		Packager:  packager.New(conn.S3, cfg.BucketS3, cfg.RootPath),
		Scaler:    autoscale.NewController(conn.AutoScaling),
		Manifests: manifest.NewS3Store(conn.S3, cfg.BucketS3),
		Executor:  executor,
		History:   store,
		Modules:   store,
		Hooks:     deploy.NewScriptHook(runner),
		RootPath:  cfg.RootPath,
		Retention: cfg.PackageRetention,
	}).WithLogger(jobLogger)

	msg, err := deployer.Deploy(ctx, app, job)

# See Also

  - pkg/packager for the package layout in object storage
  - pkg/manifest for the manifest format
  - pkg/remote for the fan-out strategies
*/
package deploy

package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/ghost/pkg/errdefs"
	"github.com/cuemby/ghost/pkg/manifest"
	"github.com/cuemby/ghost/pkg/remote"
	"github.com/cuemby/ghost/pkg/types"
)

// ErrMissingDeployID is returned when a redeploy job has no options
var ErrMissingDeployID = errors.New("Incorrect job request: missing options field deploy_id")

// Redeploy re-publishes the package of a recorded deployment and fans it
// out again. Options are [deploy_id, execution strategy]. Autoscaling is
// left untouched.
func (d *Deployer) Redeploy(ctx context.Context, app *types.App, job *types.Job) (string, error) {
	if len(job.Options) == 0 || job.Options[0] == "" {
		return "", ErrMissingDeployID
	}
	deployID := job.Options[0]
	d.logger.Info().Str("deploy_id", deployID).Msg("Redeploying module")

	strategy, err := remote.ParseStrategy(job.Option(1))
	if err != nil {
		return "", fmt.Errorf("Redeploy Failed: [%s]: %w", deployID, err)
	}

	rec, err := d.history.GetDeployment(deployID)
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			return "", fmt.Errorf("Redeploy on deployment ID: %s failed: unknown deployment", deployID)
		}
		return "", fmt.Errorf("Redeploy Failed: [%s]: %w", deployID, err)
	}
	if rec.AppID != app.ID {
		return "", fmt.Errorf("Redeploy on deployment ID: %s failed: deployment belongs to app %s", deployID, rec.AppID)
	}

	module := &types.Module{Name: rec.Module, Path: rec.ModulePath}
	if m := app.Module(rec.Module); m != nil {
		cp := *m
		cp.Path = rec.ModulePath
		module = &cp
	}

	key := manifest.Key(d.rootPath, app)
	d.logger.Info().Str("key", key).Str("package", rec.Package).Msg("Uploading manifest")
	if _, err := manifest.Publish(ctx, d.manifests, key, module.Name, rec.Package, module.Path); err != nil {
		return "", fmt.Errorf("Redeploy Failed: [%s]: %w", deployID, err)
	}
	if err := d.executor.Deploy(ctx, app, module, rec.Package, strategy, d.logger); err != nil {
		return "", fmt.Errorf("Redeploy Failed: [%s]: %w", deployID, err)
	}
	return fmt.Sprintf("Redeploy OK: [%s]", deployID), nil
}

package bluegreen

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cuemby/ghost/pkg/autoscale"
	"github.com/cuemby/ghost/pkg/loadbalancer"
	"github.com/cuemby/ghost/pkg/manifest"
	"github.com/cuemby/ghost/pkg/types"
)

// copyAMI reads the copy_ami option, falling back to the configured default
func (c *Coordinator) copyAMI(job *types.Job) (bool, error) {
	opt := job.Option(0)
	if opt == "" {
		return c.cfg.BlueGreen.Prepare.CopyAMI, nil
	}
	v, err := strconv.ParseBool(opt)
	if err != nil {
		return false, fmt.Errorf("invalid copy_ami option %q: %w", opt, err)
	}
	return v, nil
}

// Prepare makes the offline App of the pair mirror the online one: same
// sizing, optionally the same AMI, and a temporary copy of the online load
// balancer in front of it.
func (c *Coordinator) Prepare(ctx context.Context, app *types.App, job *types.Job) (string, error) {
	const action = "preparation"

	copyAMI, err := c.copyAMI(job)
	if err != nil {
		return "", err
	}

	online, offline, err := c.pair(app, action)
	if err != nil {
		return "", err
	}

	if (!copyAMI && offline.AMI == "") || (copyAMI && online.AMI == "") {
		return "", c.abort(action, offline, "ami", "Please run `Buildimage` first or use the `copy_ami` option")
	}

	offGroup, onGroup := offline.AutoscaleName(), online.AutoscaleName()
	if offGroup == "" || onGroup == "" {
		return "", c.abort(action, offline, "autoscale", "Please set an AutoScale on both green and blue app.")
	}
	if offGroup == onGroup {
		return "", c.abort(action, offline, "autoscale", "Please set a different AutoScale on green and blue app.")
	}
	for _, name := range []string{offGroup, onGroup} {
		exists, err := c.asg.Exists(ctx, name)
		if err != nil {
			return "", c.failed(action, online, offline, err)
		}
		if !exists {
			return "", c.abort(action, offline, "autoscale", "Please check that the configured AutoScale on both green and blue app exists.")
		}
	}

	if copyAMI {
		c.logger.Info().Str("from", onGroup).Str("to", offGroup).
			Msg("Copy AMI option activated, the online AMI will be reused")
	}

	if c.cfg.BlueGreen.Prepare.ModuleDeployRequired {
		m, err := c.manifests.Read(ctx, manifest.Key(c.cfg.RootPath, offline))
		if err != nil {
			return "", c.failed(action, online, offline, err)
		}
		if m.Len() != len(offline.Modules) {
			return "", c.abort(action, offline, "manifest", "Please deploy your app's modules")
		}
	}

	instances, err := c.asg.Instances(ctx, offGroup)
	if err != nil {
		return "", c.failed(action, online, offline, err)
	}
	if len(instances) > 0 {
		return "", c.abort(action, offline, "instances", "Autoscaling Group of offline app should be empty.")
	}

	onlineLBs, err := c.asg.LoadBalancers(ctx, onGroup)
	if err != nil {
		return "", c.failed(action, online, offline, err)
	}
	if len(onlineLBs) == 0 {
		return "", c.abort(action, offline, "load_balancer", "Online app AutoScale is not attached to a valid Elastic Load Balancer")
	}

	tempName, dns, err := c.prepare(ctx, online, offline, onlineLBs[0], copyAMI)
	if err != nil {
		return "", c.failed(action, online, offline, err)
	}

	return fmt.Sprintf("Blue/green preparation done for [%s] by creating the temporary ELB [%s/%s] attached to the AutoScale '%s'",
		offline.FriendlyName(), tempName, dns, offGroup), nil
}

func (c *Coordinator) prepare(ctx context.Context, online, offline *types.App, onlineLB string, copyAMI bool) (string, string, error) {
	offGroup := offline.AutoscaleName()

	tempName := loadbalancer.TempName(offline.ID)
	c.logger.Info().Str("load_balancer", tempName).Str("source", onlineLB).Msg("Creating the temporary ELB")
	dns, err := c.lbs.Copy(ctx, tempName, onlineLB, map[string]string{"app_id": offline.ID})
	if err != nil {
		return "", "", err
	}

	if err := c.asg.AttachLoadBalancers(ctx, offGroup, []string{tempName}); err != nil {
		return "", "", err
	}

	desired, err := c.asg.DesiredCapacity(ctx, online.AutoscaleName())
	if err != nil {
		return "", "", err
	}
	target := withAutoscale(offline, online.Autoscale.Min, online.Autoscale.Max, desired)
	if err := c.repo.UpdateAutoscale(offline.ID, target.Autoscale.Min, target.Autoscale.Max, target.Autoscale.Current); err != nil {
		return "", "", err
	}
	c.logger.Info().Str("app_id", offline.ID).Str("autoscale", offGroup).Msg("Autoscale settings updated")

	launchConfig := ""
	if copyAMI {
		target.AMI = online.AMI
		if err := c.repo.UpdateAMI(offline.ID, online.AMI, online.BuildInfos); err != nil {
			return "", "", err
		}
		userData, err := autoscale.UserData(c.cfg, target)
		if err != nil {
			return "", "", err
		}
		launchConfig, err = c.asg.CreateLaunchConfig(ctx, target, userData, target.AMI)
		if err != nil {
			return "", "", err
		}
	}

	if err := c.asg.UpdateGroup(ctx, target, launchConfig, true); err != nil {
		return "", "", err
	}
	c.logger.Info().Int("instances", target.Autoscale.Current).Str("autoscale", offGroup).
		Msg("Starting instances into the AutoScale")
	return tempName, dns, nil
}

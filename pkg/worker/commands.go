package worker

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/cuemby/ghost/pkg/autoscale"
	"github.com/cuemby/ghost/pkg/bluegreen"
	"github.com/cuemby/ghost/pkg/cloud"
	"github.com/cuemby/ghost/pkg/command"
	"github.com/cuemby/ghost/pkg/config"
	"github.com/cuemby/ghost/pkg/deploy"
	"github.com/cuemby/ghost/pkg/git"
	"github.com/cuemby/ghost/pkg/instances"
	"github.com/cuemby/ghost/pkg/loadbalancer"
	"github.com/cuemby/ghost/pkg/manifest"
	"github.com/cuemby/ghost/pkg/packager"
	"github.com/cuemby/ghost/pkg/remote"
)

// Job command names
const (
	CommandDeploy              = "deploy"
	CommandRedeploy            = "redeploy"
	CommandPrepareBlueGreen    = "preparebluegreen"
	CommandSwapBlueGreen       = "swapbluegreen"
	CommandPurgeBlueGreen      = "purgebluegreen"
	CommandDestroyAllInstances = "destroyallinstances"
)

// ExecutorFactory builds the remote executor of a job from its EC2 client
type ExecutorFactory func(cfg *config.Config, api ec2iface.EC2API) (remote.Executor, error)

// SSHExecutors is the default ExecutorFactory
func SSHExecutors(cfg *config.Config, api ec2iface.EC2API) (remote.Executor, error) {
	runner, err := remote.NewSSHRunner(cfg.SSH)
	if err != nil {
		return nil, err
	}
	return remote.NewSSHExecutor(remote.NewEC2Discoverer(api), runner, cfg.SSH, cfg.RootPath), nil
}

// DefaultRegistry returns a registry with every ghost command
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(CommandDeploy, "Deploy module(s)", func(ctx context.Context, env *Env) (string, error) {
		d, err := env.deployer()
		if err != nil {
			return "", err
		}
		return d.Deploy(ctx, env.App, env.Job)
	})
	r.Register(CommandRedeploy, "Redeploy a previously deployed module package", func(ctx context.Context, env *Env) (string, error) {
		d, err := env.deployer()
		if err != nil {
			return "", err
		}
		return d.Redeploy(ctx, env.App, env.Job)
	})
	r.Register(CommandPrepareBlueGreen, "Prepare the Blue/Green env before swap", func(ctx context.Context, env *Env) (string, error) {
		c, err := env.coordinator()
		if err != nil {
			return "", err
		}
		return c.Prepare(ctx, env.App, env.Job)
	})
	r.Register(CommandSwapBlueGreen, "Swap the Blue/Green env", func(ctx context.Context, env *Env) (string, error) {
		c, err := env.coordinator()
		if err != nil {
			return "", err
		}
		return c.Swap(ctx, env.App, env.Job)
	})
	r.Register(CommandPurgeBlueGreen, "Purge the Blue/Green env after swap", func(ctx context.Context, env *Env) (string, error) {
		c, err := env.coordinator()
		if err != nil {
			return "", err
		}
		return c.Purge(ctx, env.App, env.Job)
	})
	r.Register(CommandDestroyAllInstances, "Destroy all instances", func(ctx context.Context, env *Env) (string, error) {
		conn, err := env.connect(env.App.Region, cloud.CapabilityEC2)
		if err != nil {
			return "", err
		}
		return instances.NewDestroyer(conn.EC2).WithLogger(env.Logger).DestroyAll(ctx, env.App, env.Job)
	})
	return r
}

func (e *Env) connect(region string, caps ...cloud.Capability) (*cloud.Connection, error) {
	conn, err := e.Gateway.Connect(region, caps...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", region, err)
	}
	return conn, nil
}

func (e *Env) deployer() (*deploy.Deployer, error) {
	conn, err := e.connect(e.App.Region, cloud.CapabilityEC2, cloud.CapabilityAutoscaling)
	if err != nil {
		return nil, err
	}
	bucket, err := e.connect(e.Config.BucketRegionFor(e.App.Region), cloud.CapabilityS3)
	if err != nil {
		return nil, err
	}
	executor, err := e.executors(e.Config, conn.EC2)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote executor: %w", err)
	}

	runner := command.NewRunner(e.Logger).WithOutput(e.Out)
	return deploy.NewDeployer(deploy.Config{
		Git:       git.NewClient(e.Out),
		Packager:  packager.New(bucket.S3, e.Config.BucketS3, e.Config.RootPath).WithLogger(e.Logger),
		Scaler:    autoscale.NewController(conn.AutoScaling).WithLogger(e.Logger),
		Manifests: manifest.NewS3Store(bucket.S3, e.Config.BucketS3),
		Executor:  executor,
		History:   e.Store,
		Modules:   e.Store,
		Hooks:     deploy.NewScriptHook(runner),
		RootPath:  e.Config.RootPath,
		Retention: e.Config.PackageRetention,
	}).WithLogger(e.Logger), nil
}

func (e *Env) coordinator() (*bluegreen.Coordinator, error) {
	conn, err := e.connect(e.App.Region, cloud.CapabilityAutoscaling, cloud.CapabilityELB)
	if err != nil {
		return nil, err
	}
	bucket, err := e.connect(e.Config.BucketRegionFor(e.App.Region), cloud.CapabilityS3)
	if err != nil {
		return nil, err
	}
	return bluegreen.NewCoordinator(bluegreen.Config{
		Repo:          e.Store,
		Autoscale:     autoscale.NewController(conn.AutoScaling).WithLogger(e.Logger),
		LoadBalancers: loadbalancer.NewManager(conn.ELB).WithLogger(e.Logger),
		Manifests:     manifest.NewS3Store(bucket.S3, e.Config.BucketS3),
		Settings:      e.Config,
	}).WithLogger(e.Logger), nil
}

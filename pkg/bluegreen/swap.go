package bluegreen

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/cuemby/ghost/pkg/loadbalancer"
	"github.com/cuemby/ghost/pkg/types"
)

// Swap moves the online load balancers to the prepared offline App, hands
// the temporary load balancer to the previous online App and promotes the
// offline App.
func (c *Coordinator) Swap(ctx context.Context, app *types.App, job *types.Job) (string, error) {
	const action = "swap"

	online, offline, err := c.pair(app, action)
	if err != nil {
		return "", err
	}
	onGroup, offGroup := online.AutoscaleName(), offline.AutoscaleName()
	if onGroup == "" || offGroup == "" {
		return "", c.abort(action, offline, "autoscale", "Please set an AutoScale on both green and blue app.")
	}

	instances, err := c.asg.Instances(ctx, offGroup)
	if err != nil {
		return "", c.failed(action, online, offline, err)
	}
	inService := 0
	for _, inst := range instances {
		if inst.LifecycleState == autoscaling.LifecycleStateInService {
			inService++
		}
	}
	if inService == 0 {
		return "", c.abort(action, offline, "instances", "Offline app AutoScale has no instance in service.")
	}

	onlineLBs, err := c.asg.LoadBalancers(ctx, onGroup)
	if err != nil {
		return "", c.failed(action, online, offline, err)
	}
	if len(onlineLBs) == 0 {
		return "", c.abort(action, offline, "load_balancer", "Online app AutoScale is not attached to a valid Elastic Load Balancer")
	}

	tempName := loadbalancer.TempName(offline.ID)
	offlineLBs, err := c.asg.LoadBalancers(ctx, offGroup)
	if err != nil {
		return "", c.failed(action, online, offline, err)
	}
	if !contains(offlineLBs, tempName) {
		return "", c.abort(action, offline, "load_balancer",
			fmt.Sprintf("Temporary ELB [%s] is not attached to the offline AutoScale, please run `preparebluegreen` first", tempName))
	}

	steps := []func() error{
		func() error { return c.asg.AttachLoadBalancers(ctx, offGroup, onlineLBs) },
		func() error { return c.asg.DetachLoadBalancers(ctx, offGroup, []string{tempName}) },
		func() error { return c.asg.AttachLoadBalancers(ctx, onGroup, []string{tempName}) },
		func() error { return c.asg.DetachLoadBalancers(ctx, onGroup, onlineLBs) },
		func() error { return c.repo.Promote(offline.ID) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return "", c.failed(action, online, offline, err)
		}
	}

	return fmt.Sprintf("Blue/green swap done for [%s]: [%s] is now online behind %v and [%s] is reachable through the temporary ELB [%s]",
		app.FriendlyName(), offline.FriendlyName(), onlineLBs, online.FriendlyName(), tempName), nil
}

// Purge tears down what Swap left behind: the temporary load balancer on
// the offline App and the offline instances
func (c *Coordinator) Purge(ctx context.Context, app *types.App, job *types.Job) (string, error) {
	const action = "purge"

	online, offline, err := c.pair(app, action)
	if err != nil {
		return "", err
	}
	offGroup := offline.AutoscaleName()
	if offGroup == "" {
		return "", c.abort(action, offline, "autoscale", "Please set an AutoScale on both green and blue app.")
	}

	// The temporary ELB was named after the App that was offline at preparation
	tempName := loadbalancer.TempName(online.ID)
	offlineLBs, err := c.asg.LoadBalancers(ctx, offGroup)
	if err != nil {
		return "", c.failed(action, online, offline, err)
	}
	if contains(offlineLBs, tempName) {
		if err := c.asg.DetachLoadBalancers(ctx, offGroup, []string{tempName}); err != nil {
			return "", c.failed(action, online, offline, err)
		}
	}
	if c.cfg.BlueGreen.Purge.DestroyTemporaryELB() {
		if err := c.lbs.Delete(ctx, tempName); err != nil {
			return "", c.failed(action, online, offline, err)
		}
	}

	if err := c.repo.UpdateAutoscale(offline.ID, 0, 0, 0); err != nil {
		return "", c.failed(action, online, offline, err)
	}
	if err := c.asg.UpdateGroup(ctx, withAutoscale(offline, 0, 0, 0), "", true); err != nil {
		return "", c.failed(action, online, offline, err)
	}

	return fmt.Sprintf("Blue/green purge done for [%s]: AutoScale '%s' emptied", offline.FriendlyName(), offGroup), nil
}

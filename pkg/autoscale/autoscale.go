// Package autoscale controls the autoscaling group backing an App.
//
// Every operation tolerates an empty group name: an App without an
// autoscaling group is a valid configuration and suspend/resume become
// no-ops. Provider failures are returned as errdefs cloud errors and are
// never retried here.
package autoscale

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/autoscaling/autoscalingiface"
	"github.com/cuemby/ghost/pkg/errdefs"
	"github.com/cuemby/ghost/pkg/log"
	"github.com/cuemby/ghost/pkg/metrics"
	"github.com/cuemby/ghost/pkg/types"
	"github.com/rs/zerolog"
)

// Instance is a member of an autoscaling group
type Instance struct {
	ID             string
	LifecycleState string
}

// Group is a snapshot of an autoscaling group
type Group struct {
	Name            string
	Min             int
	Max             int
	DesiredCapacity int
	LoadBalancers   []string
	Instances       []Instance
}

// Controller operates on autoscaling groups of one region
type Controller struct {
	api    autoscalingiface.AutoScalingAPI
	logger zerolog.Logger
	now    func() time.Time
}

// NewController creates a controller on top of an autoscaling client
func NewController(api autoscalingiface.AutoScalingAPI) *Controller {
	return &Controller{
		api:    api,
		logger: log.WithComponent("autoscale"),
		now:    time.Now,
	}
}

// WithLogger returns a copy of the controller logging to logger
func (c *Controller) WithLogger(logger zerolog.Logger) *Controller {
	cp := *c
	cp.logger = logger
	return &cp
}

// Group returns the named group, or nil if it does not exist
func (c *Controller) Group(ctx context.Context, name string) (*Group, error) {
	if name == "" {
		return nil, nil
	}
	out, err := c.api.DescribeAutoScalingGroupsWithContext(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: aws.StringSlice([]string{name}),
	})
	if err != nil {
		return nil, errdefs.Cloud(fmt.Sprintf("describe autoscaling group %s", name), err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, nil
	}

	g := out.AutoScalingGroups[0]
	group := &Group{
		Name:            aws.StringValue(g.AutoScalingGroupName),
		Min:             int(aws.Int64Value(g.MinSize)),
		Max:             int(aws.Int64Value(g.MaxSize)),
		DesiredCapacity: int(aws.Int64Value(g.DesiredCapacity)),
		LoadBalancers:   aws.StringValueSlice(g.LoadBalancerNames),
	}
	for _, inst := range g.Instances {
		group.Instances = append(group.Instances, Instance{
			ID:             aws.StringValue(inst.InstanceId),
			LifecycleState: aws.StringValue(inst.LifecycleState),
		})
	}
	return group, nil
}

// Exists reports whether the named group exists
func (c *Controller) Exists(ctx context.Context, name string) (bool, error) {
	group, err := c.Group(ctx, name)
	if err != nil {
		return false, err
	}
	return group != nil, nil
}

// Instances lists the members of the named group
func (c *Controller) Instances(ctx context.Context, name string) ([]Instance, error) {
	group, err := c.Group(ctx, name)
	if err != nil || group == nil {
		return nil, err
	}
	return group.Instances, nil
}

// DesiredCapacity returns the current desired capacity of the named group
func (c *Controller) DesiredCapacity(ctx context.Context, name string) (int, error) {
	group, err := c.Group(ctx, name)
	if err != nil {
		return 0, err
	}
	if group == nil {
		return 0, errdefs.Cloud("desired capacity", fmt.Errorf("autoscaling group %s not found", name))
	}
	return group.DesiredCapacity, nil
}

// LoadBalancers returns the load balancer names attached to the named group
func (c *Controller) LoadBalancers(ctx context.Context, name string) ([]string, error) {
	group, err := c.Group(ctx, name)
	if err != nil || group == nil {
		return nil, err
	}
	return group.LoadBalancers, nil
}

// Suspend suspends every scaling process of the named group. It is a no-op
// when no group is configured or the group does not exist.
func (c *Controller) Suspend(ctx context.Context, name string) error {
	group, err := c.Group(ctx, name)
	if err != nil {
		return err
	}
	if group == nil {
		c.logger.Debug().Str("autoscale", name).Msg("No autoscaling group to suspend")
		return nil
	}

	c.logger.Info().Str("autoscale", name).Msg("Stopping autoscaling")
	if _, err := c.api.SuspendProcessesWithContext(ctx, &autoscaling.ScalingProcessQuery{
		AutoScalingGroupName: aws.String(name),
	}); err != nil {
		return errdefs.Cloud(fmt.Sprintf("suspend autoscaling group %s", name), err)
	}
	metrics.AutoscaleOperations.WithLabelValues("suspend").Inc()
	return nil
}

// Resume resumes every scaling process of the named group. Same tolerance
// as Suspend.
func (c *Controller) Resume(ctx context.Context, name string) error {
	group, err := c.Group(ctx, name)
	if err != nil {
		return err
	}
	if group == nil {
		c.logger.Debug().Str("autoscale", name).Msg("No autoscaling group to resume")
		return nil
	}

	c.logger.Info().Str("autoscale", name).Msg("Resuming autoscaling")
	if _, err := c.api.ResumeProcessesWithContext(ctx, &autoscaling.ScalingProcessQuery{
		AutoScalingGroupName: aws.String(name),
	}); err != nil {
		return errdefs.Cloud(fmt.Sprintf("resume autoscaling group %s", name), err)
	}
	metrics.AutoscaleOperations.WithLabelValues("resume").Inc()
	return nil
}

// LaunchConfigName builds the launch configuration name of an app for an AMI
func LaunchConfigName(app *types.App, amiID string, now time.Time) string {
	return strings.Join([]string{
		"launchconfig",
		app.Env,
		app.Region,
		app.Role,
		app.Name,
		amiID,
		fmt.Sprintf("%d", now.Unix()),
	}, ".")
}

// CreateLaunchConfig creates a launch configuration for app from amiID and
// returns its name
func (c *Controller) CreateLaunchConfig(ctx context.Context, app *types.App, userData string, amiID string) (string, error) {
	name := LaunchConfigName(app, amiID, c.now())
	input := &autoscaling.CreateLaunchConfigurationInput{
		LaunchConfigurationName: aws.String(name),
		ImageId:                 aws.String(amiID),
		InstanceType:            aws.String(app.InstanceType),
		UserData:                aws.String(userData),
	}
	if env := app.Environment; env != nil {
		if env.KeyName != "" {
			input.KeyName = aws.String(env.KeyName)
		}
		if env.InstanceProfile != "" {
			input.IamInstanceProfile = aws.String(env.InstanceProfile)
		}
		if len(env.SecurityGroups) > 0 {
			input.SecurityGroups = aws.StringSlice(env.SecurityGroups)
		}
	}

	c.logger.Info().Str("launch_config", name).Str("ami", amiID).Msg("Creating launch configuration")
	if _, err := c.api.CreateLaunchConfigurationWithContext(ctx, input); err != nil {
		return "", errdefs.Cloud(fmt.Sprintf("create launch configuration %s", name), err)
	}
	metrics.AutoscaleOperations.WithLabelValues("create_launch_config").Inc()
	return name, nil
}

// UpdateGroup points the app's group at launchConfig (when not empty) and,
// when applyParams is set, applies min/max/desired and subnets from the
// app's cached autoscale descriptor
func (c *Controller) UpdateGroup(ctx context.Context, app *types.App, launchConfig string, applyParams bool) error {
	if !app.Autoscale.HasGroup() {
		return nil
	}
	input := &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(app.Autoscale.Name),
	}
	if launchConfig != "" {
		input.LaunchConfigurationName = aws.String(launchConfig)
	}
	if applyParams {
		input.MinSize = aws.Int64(int64(app.Autoscale.Min))
		input.MaxSize = aws.Int64(int64(app.Autoscale.Max))
		input.DesiredCapacity = aws.Int64(int64(app.Autoscale.Current))
		if app.Environment != nil && len(app.Environment.Subnets) > 0 {
			input.VPCZoneIdentifier = aws.String(strings.Join(app.Environment.Subnets, ","))
		}
	}

	c.logger.Info().
		Str("autoscale", app.Autoscale.Name).
		Str("launch_config", launchConfig).
		Bool("apply_params", applyParams).
		Msg("Updating autoscaling group")
	if _, err := c.api.UpdateAutoScalingGroupWithContext(ctx, input); err != nil {
		return errdefs.Cloud(fmt.Sprintf("update autoscaling group %s", app.Autoscale.Name), err)
	}
	metrics.AutoscaleOperations.WithLabelValues("update_group").Inc()
	return nil
}

// AttachLoadBalancers registers load balancers into the named group
func (c *Controller) AttachLoadBalancers(ctx context.Context, name string, lbs []string) error {
	if name == "" || len(lbs) == 0 {
		return nil
	}
	c.logger.Info().Str("autoscale", name).Strs("load_balancers", lbs).Msg("Attaching load balancers")
	if _, err := c.api.AttachLoadBalancersWithContext(ctx, &autoscaling.AttachLoadBalancersInput{
		AutoScalingGroupName: aws.String(name),
		LoadBalancerNames:    aws.StringSlice(lbs),
	}); err != nil {
		return errdefs.Cloud(fmt.Sprintf("attach load balancers to %s", name), err)
	}
	return nil
}

// DetachLoadBalancers deregisters load balancers from the named group
func (c *Controller) DetachLoadBalancers(ctx context.Context, name string, lbs []string) error {
	if name == "" || len(lbs) == 0 {
		return nil
	}
	c.logger.Info().Str("autoscale", name).Strs("load_balancers", lbs).Msg("Detaching load balancers")
	if _, err := c.api.DetachLoadBalancersWithContext(ctx, &autoscaling.DetachLoadBalancersInput{
		AutoScalingGroupName: aws.String(name),
		LoadBalancerNames:    aws.StringSlice(lbs),
	}); err != nil {
		return errdefs.Cloud(fmt.Sprintf("detach load balancers from %s", name), err)
	}
	return nil
}

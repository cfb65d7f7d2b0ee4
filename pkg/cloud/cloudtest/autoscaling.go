package cloudtest

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/autoscaling/autoscalingiface"
)

// AutoScaling fakes the autoscaling client
type AutoScaling struct {
	autoscalingiface.AutoScalingAPI
	recorder

	Groups        map[string]*autoscaling.Group
	LaunchConfigs map[string]*autoscaling.CreateLaunchConfigurationInput
	Suspended     map[string]bool
}

// NewAutoScaling creates an empty fake
func NewAutoScaling() *AutoScaling {
	return &AutoScaling{
		Groups:        make(map[string]*autoscaling.Group),
		LaunchConfigs: make(map[string]*autoscaling.CreateLaunchConfigurationInput),
		Suspended:     make(map[string]bool),
	}
}

// AddGroup registers a group with n in-service instances and the given load balancers
func (f *AutoScaling) AddGroup(name string, min, max, desired int64, n int, lbs ...string) *autoscaling.Group {
	f.mu.Lock()
	defer f.mu.Unlock()

	group := &autoscaling.Group{
		AutoScalingGroupName: aws.String(name),
		MinSize:              aws.Int64(min),
		MaxSize:              aws.Int64(max),
		DesiredCapacity:      aws.Int64(desired),
		LoadBalancerNames:    aws.StringSlice(lbs),
	}
	for i := 0; i < n; i++ {
		group.Instances = append(group.Instances, &autoscaling.Instance{
			InstanceId:     aws.String(fmt.Sprintf("i-%s-%d", name, i)),
			LifecycleState: aws.String(autoscaling.LifecycleStateInService),
		})
	}
	f.Groups[name] = group
	return group
}

// Group returns a registered group
func (f *AutoScaling) Group(name string) *autoscaling.Group {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Groups[name]
}

func (f *AutoScaling) DescribeAutoScalingGroupsWithContext(ctx aws.Context, in *autoscaling.DescribeAutoScalingGroupsInput, opts ...request.Option) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DescribeAutoScalingGroups"); err != nil {
		return nil, err
	}

	out := &autoscaling.DescribeAutoScalingGroupsOutput{}
	for _, name := range aws.StringValueSlice(in.AutoScalingGroupNames) {
		if g, ok := f.Groups[name]; ok {
			out.AutoScalingGroups = append(out.AutoScalingGroups, g)
		}
	}
	return out, nil
}

func (f *AutoScaling) SuspendProcessesWithContext(ctx aws.Context, in *autoscaling.ScalingProcessQuery, opts ...request.Option) (*autoscaling.SuspendProcessesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SuspendProcesses"); err != nil {
		return nil, err
	}
	name := aws.StringValue(in.AutoScalingGroupName)
	if _, ok := f.Groups[name]; !ok {
		return nil, apiError("ValidationError", "AutoScalingGroup name not found - "+name)
	}
	f.Suspended[name] = true
	return &autoscaling.SuspendProcessesOutput{}, nil
}

func (f *AutoScaling) ResumeProcessesWithContext(ctx aws.Context, in *autoscaling.ScalingProcessQuery, opts ...request.Option) (*autoscaling.ResumeProcessesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ResumeProcesses"); err != nil {
		return nil, err
	}
	name := aws.StringValue(in.AutoScalingGroupName)
	if _, ok := f.Groups[name]; !ok {
		return nil, apiError("ValidationError", "AutoScalingGroup name not found - "+name)
	}
	f.Suspended[name] = false
	return &autoscaling.ResumeProcessesOutput{}, nil
}

func (f *AutoScaling) CreateLaunchConfigurationWithContext(ctx aws.Context, in *autoscaling.CreateLaunchConfigurationInput, opts ...request.Option) (*autoscaling.CreateLaunchConfigurationOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateLaunchConfiguration"); err != nil {
		return nil, err
	}
	f.LaunchConfigs[aws.StringValue(in.LaunchConfigurationName)] = in
	return &autoscaling.CreateLaunchConfigurationOutput{}, nil
}

func (f *AutoScaling) UpdateAutoScalingGroupWithContext(ctx aws.Context, in *autoscaling.UpdateAutoScalingGroupInput, opts ...request.Option) (*autoscaling.UpdateAutoScalingGroupOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateAutoScalingGroup"); err != nil {
		return nil, err
	}
	g, ok := f.Groups[aws.StringValue(in.AutoScalingGroupName)]
	if !ok {
		return nil, apiError("ValidationError", "AutoScalingGroup name not found")
	}
	if in.LaunchConfigurationName != nil {
		g.LaunchConfigurationName = in.LaunchConfigurationName
	}
	if in.MinSize != nil {
		g.MinSize = in.MinSize
	}
	if in.MaxSize != nil {
		g.MaxSize = in.MaxSize
	}
	if in.DesiredCapacity != nil {
		g.DesiredCapacity = in.DesiredCapacity
	}
	if in.VPCZoneIdentifier != nil {
		g.VPCZoneIdentifier = in.VPCZoneIdentifier
	}
	return &autoscaling.UpdateAutoScalingGroupOutput{}, nil
}

func (f *AutoScaling) AttachLoadBalancersWithContext(ctx aws.Context, in *autoscaling.AttachLoadBalancersInput, opts ...request.Option) (*autoscaling.AttachLoadBalancersOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AttachLoadBalancers"); err != nil {
		return nil, err
	}
	g, ok := f.Groups[aws.StringValue(in.AutoScalingGroupName)]
	if !ok {
		return nil, apiError("ValidationError", "AutoScalingGroup name not found")
	}
	g.LoadBalancerNames = append(g.LoadBalancerNames, in.LoadBalancerNames...)
	return &autoscaling.AttachLoadBalancersOutput{}, nil
}

func (f *AutoScaling) DetachLoadBalancersWithContext(ctx aws.Context, in *autoscaling.DetachLoadBalancersInput, opts ...request.Option) (*autoscaling.DetachLoadBalancersOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DetachLoadBalancers"); err != nil {
		return nil, err
	}
	g, ok := f.Groups[aws.StringValue(in.AutoScalingGroupName)]
	if !ok {
		return nil, apiError("ValidationError", "AutoScalingGroup name not found")
	}
	detach := make(map[string]bool)
	for _, n := range aws.StringValueSlice(in.LoadBalancerNames) {
		detach[n] = true
	}
	var kept []*string
	for _, n := range g.LoadBalancerNames {
		if !detach[aws.StringValue(n)] {
			kept = append(kept, n)
		}
	}
	g.LoadBalancerNames = kept
	return &autoscaling.DetachLoadBalancersOutput{}, nil
}

// Package remote applies packages to the running instances of an app.
//
// Instances are discovered through their App, Env and Role tags and reached
// over SSH. The fan-out is serial by default; the parallel strategy runs on
// every host at once and reports the first failure.
package remote

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/cuemby/ghost/pkg/errdefs"
	"github.com/cuemby/ghost/pkg/types"
)

// Host is a running instance reachable on its private address
type Host struct {
	InstanceID string
	Address    string
}

// Discoverer resolves the running instances of an app
type Discoverer interface {
	Discover(ctx context.Context, app *types.App) ([]Host, error)
}

// EC2Discoverer finds instances by tags. The client must be connected to
// the app region.
type EC2Discoverer struct {
	api ec2iface.EC2API
}

// NewEC2Discoverer creates a discoverer on top of a compute client
func NewEC2Discoverer(api ec2iface.EC2API) *EC2Discoverer {
	return &EC2Discoverer{api: api}
}

// Discover returns the running instances tagged with the app name, env and
// role. Zero instances is an error wrapping errdefs.ErrNoInstances.
func (d *EC2Discoverer) Discover(ctx context.Context, app *types.App) ([]Host, error) {
	out, err := d.api.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{
		Filters: []*ec2.Filter{
			{Name: aws.String("tag:App"), Values: aws.StringSlice([]string{app.Name})},
			{Name: aws.String("tag:Env"), Values: aws.StringSlice([]string{app.Env})},
			{Name: aws.String("tag:Role"), Values: aws.StringSlice([]string{app.Role})},
			{Name: aws.String("instance-state-name"), Values: aws.StringSlice([]string{ec2.InstanceStateNameRunning})},
		},
	})
	if err != nil {
		return nil, errdefs.Cloud("describe instances", err)
	}

	var hosts []Host
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			if inst.PrivateIpAddress == nil {
				continue
			}
			hosts = append(hosts, Host{
				InstanceID: aws.StringValue(inst.InstanceId),
				Address:    aws.StringValue(inst.PrivateIpAddress),
			})
		}
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no instance found with tags App:%s, Role:%s, Env:%s in %s: %w",
			app.Name, app.Role, app.Env, app.Region, errdefs.ErrNoInstances)
	}
	return hosts, nil
}

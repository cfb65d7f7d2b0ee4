// Package instances manages the EC2 instances created for an App outside of
// its autoscaling group.
package instances

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/cuemby/ghost/pkg/errdefs"
	"github.com/cuemby/ghost/pkg/log"
	"github.com/cuemby/ghost/pkg/types"
	"github.com/rs/zerolog"
)

// TagAppID is the instance tag holding the owning App id
const TagAppID = "app_id"

// Destroyer terminates App instances
type Destroyer struct {
	api    ec2iface.EC2API
	logger zerolog.Logger
}

// NewDestroyer creates a destroyer on top of an EC2 client
func NewDestroyer(api ec2iface.EC2API) *Destroyer {
	return &Destroyer{api: api, logger: log.WithComponent("instances")}
}

// WithLogger returns a copy of the destroyer logging to logger
func (d *Destroyer) WithLogger(logger zerolog.Logger) *Destroyer {
	cp := *d
	cp.logger = logger
	return &cp
}

// Tagged returns the ids of the non-terminated instances tagged with the app id
func (d *Destroyer) Tagged(ctx context.Context, app *types.App) ([]string, error) {
	var ids []string
	out, err := d.api.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{
		Filters: []*ec2.Filter{
			{Name: aws.String("tag:" + TagAppID), Values: aws.StringSlice([]string{app.ID})},
		},
	})
	if err != nil {
		return nil, errdefs.Cloud(fmt.Sprintf("describe instances of %s", app.ID), err)
	}
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			if inst.State != nil && aws.StringValue(inst.State.Name) == ec2.InstanceStateNameTerminated {
				continue
			}
			ids = append(ids, aws.StringValue(inst.InstanceId))
		}
	}
	return ids, nil
}

// DestroyAll terminates every instance tagged with the app id
func (d *Destroyer) DestroyAll(ctx context.Context, app *types.App, job *types.Job) (string, error) {
	d.logger.Info().Str("ami", app.AMI).Str("region", app.Region).Msg("Destroying EC2 instances")

	ids, err := d.Tagged(ctx, app)
	if err != nil {
		return "", fmt.Errorf("Instance deletion failed: [%s]: %w", app.Name, err)
	}
	if len(ids) == 0 {
		return fmt.Sprintf("Instance deletion OK: [%s] no instance found", app.Name), nil
	}

	d.logger.Info().Strs("instances", ids).Msg("Terminating instances")
	if _, err := d.api.TerminateInstancesWithContext(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: aws.StringSlice(ids),
	}); err != nil {
		return "", fmt.Errorf("Instance deletion failed: [%s]: %w",
			app.Name, errdefs.Cloud("terminate instances", err))
	}
	return fmt.Sprintf("Instance deletion OK: [%s]", app.Name), nil
}

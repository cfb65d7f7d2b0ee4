// Package loadbalancer manages the classic load balancers used by blue/green
// preparation: duplicating the online load balancer into a temporary one for
// the offline environment, and deleting it once the swap is purged.
package loadbalancer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/elb"
	"github.com/aws/aws-sdk-go/service/elb/elbiface"
	"github.com/cuemby/ghost/pkg/errdefs"
	"github.com/cuemby/ghost/pkg/log"
	"github.com/rs/zerolog"
)

// MaxNameLength is the provider limit on load balancer names
const MaxNameLength = 32

// tempPrefix marks load balancers created by blue/green preparation
const tempPrefix = "bgtmp-"

// TempName returns the temporary load balancer name of an app. The name is
// capped one below the provider limit.
func TempName(appID string) string {
	name := tempPrefix + appID
	if len(name) > MaxNameLength-1 {
		name = name[:MaxNameLength-1]
	}
	return name
}

// Manager operates on load balancers of one region
type Manager struct {
	api    elbiface.ELBAPI
	logger zerolog.Logger
}

// NewManager creates a manager on top of an ELB client
func NewManager(api elbiface.ELBAPI) *Manager {
	return &Manager{
		api:    api,
		logger: log.WithComponent("loadbalancer"),
	}
}

// WithLogger returns a copy of the manager logging to logger
func (m *Manager) WithLogger(logger zerolog.Logger) *Manager {
	cp := *m
	cp.logger = logger
	return &cp
}

func (m *Manager) describe(ctx context.Context, name string) (*elb.LoadBalancerDescription, error) {
	out, err := m.api.DescribeLoadBalancersWithContext(ctx, &elb.DescribeLoadBalancersInput{
		LoadBalancerNames: aws.StringSlice([]string{name}),
	})
	if err != nil {
		return nil, errdefs.Cloud(fmt.Sprintf("describe load balancer %s", name), err)
	}
	if len(out.LoadBalancerDescriptions) == 0 {
		return nil, errdefs.Cloud("describe load balancer", fmt.Errorf("load balancer %s not found", name))
	}
	return out.LoadBalancerDescriptions[0], nil
}

// Copy creates newName with the listeners, network placement, security
// groups, scheme, health check and attributes of source, adds tags, and
// returns the DNS name of the new load balancer
func (m *Manager) Copy(ctx context.Context, newName, source string, tags map[string]string) (string, error) {
	src, err := m.describe(ctx, source)
	if err != nil {
		return "", err
	}

	input := &elb.CreateLoadBalancerInput{
		LoadBalancerName: aws.String(newName),
		Scheme:           src.Scheme,
		SecurityGroups:   src.SecurityGroups,
	}
	// VPC load balancers are placed by subnet, classic ones by zone
	if len(src.Subnets) > 0 {
		input.Subnets = src.Subnets
	} else {
		input.AvailabilityZones = src.AvailabilityZones
	}
	for _, ld := range src.ListenerDescriptions {
		if ld.Listener != nil {
			input.Listeners = append(input.Listeners, ld.Listener)
		}
	}
	for k, v := range tags {
		input.Tags = append(input.Tags, &elb.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	m.logger.Info().Str("load_balancer", newName).Str("source", source).Msg("Creating load balancer from source")
	out, err := m.api.CreateLoadBalancerWithContext(ctx, input)
	if err != nil {
		return "", errdefs.Cloud(fmt.Sprintf("create load balancer %s", newName), err)
	}

	if src.HealthCheck != nil {
		if _, err := m.api.ConfigureHealthCheckWithContext(ctx, &elb.ConfigureHealthCheckInput{
			LoadBalancerName: aws.String(newName),
			HealthCheck:      src.HealthCheck,
		}); err != nil {
			return "", errdefs.Cloud(fmt.Sprintf("configure health check of %s", newName), err)
		}
	}

	attrs, err := m.api.DescribeLoadBalancerAttributesWithContext(ctx, &elb.DescribeLoadBalancerAttributesInput{
		LoadBalancerName: aws.String(source),
	})
	if err != nil {
		return "", errdefs.Cloud(fmt.Sprintf("describe attributes of %s", source), err)
	}
	if attrs.LoadBalancerAttributes != nil {
		if _, err := m.api.ModifyLoadBalancerAttributesWithContext(ctx, &elb.ModifyLoadBalancerAttributesInput{
			LoadBalancerName:       aws.String(newName),
			LoadBalancerAttributes: attrs.LoadBalancerAttributes,
		}); err != nil {
			return "", errdefs.Cloud(fmt.Sprintf("modify attributes of %s", newName), err)
		}
	}

	return aws.StringValue(out.DNSName), nil
}

// Delete removes a load balancer
func (m *Manager) Delete(ctx context.Context, name string) error {
	m.logger.Info().Str("load_balancer", name).Msg("Deleting load balancer")
	if _, err := m.api.DeleteLoadBalancerWithContext(ctx, &elb.DeleteLoadBalancerInput{
		LoadBalancerName: aws.String(name),
	}); err != nil {
		return errdefs.Cloud(fmt.Sprintf("delete load balancer %s", name), err)
	}
	return nil
}

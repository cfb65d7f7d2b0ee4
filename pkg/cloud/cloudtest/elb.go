package cloudtest

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/elb"
	"github.com/aws/aws-sdk-go/service/elb/elbiface"
)

// ELB fakes the classic load balancer client
type ELB struct {
	elbiface.ELBAPI
	recorder

	LoadBalancers map[string]*elb.LoadBalancerDescription
	Attributes    map[string]*elb.LoadBalancerAttributes
	Tags          map[string][]*elb.Tag
}

// NewELB creates an empty fake
func NewELB() *ELB {
	return &ELB{
		LoadBalancers: make(map[string]*elb.LoadBalancerDescription),
		Attributes:    make(map[string]*elb.LoadBalancerAttributes),
		Tags:          make(map[string][]*elb.Tag),
	}
}

// AddLoadBalancer registers an internet-facing VPC load balancer with one HTTP listener
func (f *ELB) AddLoadBalancer(name string) *elb.LoadBalancerDescription {
	f.mu.Lock()
	defer f.mu.Unlock()

	lb := &elb.LoadBalancerDescription{
		LoadBalancerName: aws.String(name),
		DNSName:          aws.String(name + ".elb.amazonaws.com"),
		Scheme:           aws.String("internet-facing"),
		Subnets:          aws.StringSlice([]string{"subnet-a", "subnet-b"}),
		SecurityGroups:   aws.StringSlice([]string{"sg-web"}),
		ListenerDescriptions: []*elb.ListenerDescription{{
			Listener: &elb.Listener{
				Protocol:         aws.String("HTTP"),
				LoadBalancerPort: aws.Int64(80),
				InstanceProtocol: aws.String("HTTP"),
				InstancePort:     aws.Int64(80),
			},
		}},
		HealthCheck: &elb.HealthCheck{
			Target:             aws.String("HTTP:80/health"),
			Interval:           aws.Int64(30),
			Timeout:            aws.Int64(5),
			HealthyThreshold:   aws.Int64(2),
			UnhealthyThreshold: aws.Int64(3),
		},
	}
	f.LoadBalancers[name] = lb
	f.Attributes[name] = &elb.LoadBalancerAttributes{
		CrossZoneLoadBalancing: &elb.CrossZoneLoadBalancing{Enabled: aws.Bool(true)},
		ConnectionDraining:     &elb.ConnectionDraining{Enabled: aws.Bool(true), Timeout: aws.Int64(300)},
	}
	return lb
}

// LoadBalancer returns a registered load balancer
func (f *ELB) LoadBalancer(name string) *elb.LoadBalancerDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.LoadBalancers[name]
}

func (f *ELB) DescribeLoadBalancersWithContext(ctx aws.Context, in *elb.DescribeLoadBalancersInput, opts ...request.Option) (*elb.DescribeLoadBalancersOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DescribeLoadBalancers"); err != nil {
		return nil, err
	}
	out := &elb.DescribeLoadBalancersOutput{}
	for _, name := range aws.StringValueSlice(in.LoadBalancerNames) {
		lb, ok := f.LoadBalancers[name]
		if !ok {
			return nil, apiError(elb.ErrCodeAccessPointNotFoundException, "There is no ACTIVE Load Balancer named '"+name+"'")
		}
		out.LoadBalancerDescriptions = append(out.LoadBalancerDescriptions, lb)
	}
	return out, nil
}

func (f *ELB) DescribeLoadBalancerAttributesWithContext(ctx aws.Context, in *elb.DescribeLoadBalancerAttributesInput, opts ...request.Option) (*elb.DescribeLoadBalancerAttributesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DescribeLoadBalancerAttributes"); err != nil {
		return nil, err
	}
	return &elb.DescribeLoadBalancerAttributesOutput{
		LoadBalancerAttributes: f.Attributes[aws.StringValue(in.LoadBalancerName)],
	}, nil
}

func (f *ELB) CreateLoadBalancerWithContext(ctx aws.Context, in *elb.CreateLoadBalancerInput, opts ...request.Option) (*elb.CreateLoadBalancerOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateLoadBalancer"); err != nil {
		return nil, err
	}
	name := aws.StringValue(in.LoadBalancerName)
	if _, ok := f.LoadBalancers[name]; ok {
		return nil, apiError(elb.ErrCodeDuplicateAccessPointNameException, "duplicate name "+name)
	}
	lb := &elb.LoadBalancerDescription{
		LoadBalancerName:  in.LoadBalancerName,
		DNSName:           aws.String(name + ".elb.amazonaws.com"),
		Scheme:            in.Scheme,
		Subnets:           in.Subnets,
		AvailabilityZones: in.AvailabilityZones,
		SecurityGroups:    in.SecurityGroups,
	}
	for _, l := range in.Listeners {
		lb.ListenerDescriptions = append(lb.ListenerDescriptions, &elb.ListenerDescription{Listener: l})
	}
	f.LoadBalancers[name] = lb
	f.Tags[name] = in.Tags
	return &elb.CreateLoadBalancerOutput{DNSName: lb.DNSName}, nil
}

func (f *ELB) ConfigureHealthCheckWithContext(ctx aws.Context, in *elb.ConfigureHealthCheckInput, opts ...request.Option) (*elb.ConfigureHealthCheckOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ConfigureHealthCheck"); err != nil {
		return nil, err
	}
	if lb, ok := f.LoadBalancers[aws.StringValue(in.LoadBalancerName)]; ok {
		lb.HealthCheck = in.HealthCheck
	}
	return &elb.ConfigureHealthCheckOutput{HealthCheck: in.HealthCheck}, nil
}

func (f *ELB) ModifyLoadBalancerAttributesWithContext(ctx aws.Context, in *elb.ModifyLoadBalancerAttributesInput, opts ...request.Option) (*elb.ModifyLoadBalancerAttributesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ModifyLoadBalancerAttributes"); err != nil {
		return nil, err
	}
	f.Attributes[aws.StringValue(in.LoadBalancerName)] = in.LoadBalancerAttributes
	return &elb.ModifyLoadBalancerAttributesOutput{
		LoadBalancerName:       in.LoadBalancerName,
		LoadBalancerAttributes: in.LoadBalancerAttributes,
	}, nil
}

func (f *ELB) DeleteLoadBalancerWithContext(ctx aws.Context, in *elb.DeleteLoadBalancerInput, opts ...request.Option) (*elb.DeleteLoadBalancerOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteLoadBalancer"); err != nil {
		return nil, err
	}
	delete(f.LoadBalancers, aws.StringValue(in.LoadBalancerName))
	return &elb.DeleteLoadBalancerOutput{}, nil
}

package cloudtest

import (
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
)

// EC2 fakes the compute client. Only tag:<Key> and instance-state-name
// filters are understood.
type EC2 struct {
	ec2iface.EC2API
	recorder

	Instances  []*ec2.Instance
	Terminated []string
}

// NewEC2 creates an empty fake
func NewEC2() *EC2 {
	return &EC2{}
}

// AddInstance registers an instance with a private IP, a state and tags
func (f *EC2) AddInstance(id, ip, state string, tags map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	inst := &ec2.Instance{
		InstanceId: aws.String(id),
		State:      &ec2.InstanceState{Name: aws.String(state)},
	}
	if ip != "" {
		inst.PrivateIpAddress = aws.String(ip)
	}
	for k, v := range tags {
		inst.Tags = append(inst.Tags, &ec2.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	f.Instances = append(f.Instances, inst)
}

func matches(inst *ec2.Instance, filter *ec2.Filter) bool {
	name := aws.StringValue(filter.Name)
	values := aws.StringValueSlice(filter.Values)

	var actual string
	switch {
	case name == "instance-state-name":
		actual = aws.StringValue(inst.State.Name)
	case strings.HasPrefix(name, "tag:"):
		key := strings.TrimPrefix(name, "tag:")
		found := false
		for _, t := range inst.Tags {
			if aws.StringValue(t.Key) == key {
				actual = aws.StringValue(t.Value)
				found = true
			}
		}
		if !found {
			return false
		}
	default:
		return true
	}

	for _, v := range values {
		if v == actual {
			return true
		}
	}
	return false
}

func (f *EC2) DescribeInstancesWithContext(ctx aws.Context, in *ec2.DescribeInstancesInput, opts ...request.Option) (*ec2.DescribeInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DescribeInstances"); err != nil {
		return nil, err
	}

	out := &ec2.DescribeInstancesOutput{}
	for _, inst := range f.Instances {
		ok := true
		for _, filter := range in.Filters {
			if !matches(inst, filter) {
				ok = false
				break
			}
		}
		if ok {
			// One reservation per instance, like separate launches
			out.Reservations = append(out.Reservations, &ec2.Reservation{Instances: []*ec2.Instance{inst}})
		}
	}
	return out, nil
}

func (f *EC2) TerminateInstancesWithContext(ctx aws.Context, in *ec2.TerminateInstancesInput, opts ...request.Option) (*ec2.TerminateInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("TerminateInstances"); err != nil {
		return nil, err
	}
	out := &ec2.TerminateInstancesOutput{}
	for _, id := range aws.StringValueSlice(in.InstanceIds) {
		f.Terminated = append(f.Terminated, id)
		out.TerminatingInstances = append(out.TerminatingInstances, &ec2.InstanceStateChange{InstanceId: aws.String(id)})
	}
	return out, nil
}

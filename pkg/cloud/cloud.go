// Package cloud provides capability-scoped connections to the cloud provider.
//
// A Gateway is built per job from the app's provider name and optional
// cross-account assumed-role settings. Connect returns a Connection exposing
// only the service clients that were asked for.
package cloud

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go/service/autoscaling/autoscalingiface"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/aws/aws-sdk-go/service/elb/elbiface"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/cuemby/ghost/pkg/types"
)

// Capability names a provider sub-service
type Capability string

const (
	CapabilityEC2         Capability = "ec2"
	CapabilityAutoscaling Capability = "autoscaling"
	CapabilityELB         Capability = "elb"
	CapabilityS3          Capability = "s3"
)

// ConnectionData carries the optional assumed-role parameters
type ConnectionData struct {
	AssumedAccountID  string
	AssumedRoleName   string
	AssumedRegionName string
}

// FromApp extracts the connection data of an app
func FromApp(app *types.App) ConnectionData {
	return ConnectionData{
		AssumedAccountID:  app.AssumedAccountID,
		AssumedRoleName:   app.AssumedRoleName,
		AssumedRegionName: app.AssumedRegionName,
	}
}

// AssumesRole reports whether cross-account credentials must be used
func (d ConnectionData) AssumesRole() bool {
	return d.AssumedAccountID != "" && d.AssumedRoleName != ""
}

// RoleARN returns the ARN of the role to assume
func (d ConnectionData) RoleARN() string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", d.AssumedAccountID, d.AssumedRoleName)
}

// Connection holds the clients requested from Gateway.Connect. Clients for
// capabilities that were not requested are nil.
type Connection struct {
	Region      string
	EC2         ec2iface.EC2API
	AutoScaling autoscalingiface.AutoScalingAPI
	ELB         elbiface.ELBAPI
	S3          s3iface.S3API
}

// Gateway yields connections scoped to a region and a set of capabilities
type Gateway interface {
	Connect(region string, caps ...Capability) (*Connection, error)
}

// Factory builds a Gateway for one provider
type Factory func(data ConnectionData) (Gateway, error)

var (
	providersMu sync.RWMutex
	providers   = map[string]Factory{}
)

// Register makes a provider available to New
func Register(name string, factory Factory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// Providers lists registered provider names
func Providers() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns a Gateway for the named provider
func New(provider string, data ConnectionData) (Gateway, error) {
	providersMu.RLock()
	factory, ok := providers[provider]
	providersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown cloud provider %q", provider)
	}
	return factory(data)
}

// ForApp returns a Gateway for the app's provider, falling back to defaultProvider
func ForApp(app *types.App, defaultProvider string) (Gateway, error) {
	provider := app.Provider
	if provider == "" {
		provider = defaultProvider
	}
	return New(provider, FromApp(app))
}

func init() {
	Register("aws", NewAWS)
}

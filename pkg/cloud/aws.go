package cloud

import (
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials/stscreds"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/elb"
	"github.com/aws/aws-sdk-go/service/s3"
)

// AWSGateway is the aws-sdk-go implementation of Gateway. Sessions are
// cached per region for the lifetime of the gateway.
type AWSGateway struct {
	data ConnectionData

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewAWS creates an AWS gateway
func NewAWS(data ConnectionData) (Gateway, error) {
	return &AWSGateway{
		data:     data,
		sessions: make(map[string]*session.Session),
	}, nil
}

func (g *AWSGateway) session(region string) (*session.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if sess, ok := g.sessions[region]; ok {
		return sess, nil
	}

	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session for %s: %w", region, err)
	}

	if g.data.AssumesRole() {
		stsRegion := g.data.AssumedRegionName
		if stsRegion == "" {
			stsRegion = region
		}
		base, err := session.NewSession(&aws.Config{Region: aws.String(stsRegion)})
		if err != nil {
			return nil, fmt.Errorf("failed to create sts session: %w", err)
		}
		creds := stscreds.NewCredentials(base, g.data.RoleARN())
		sess = sess.Copy(&aws.Config{Credentials: creds})
	}

	g.sessions[region] = sess
	return sess, nil
}

// Connect implements Gateway
func (g *AWSGateway) Connect(region string, caps ...Capability) (*Connection, error) {
	if region == "" {
		return nil, fmt.Errorf("region is required")
	}
	sess, err := g.session(region)
	if err != nil {
		return nil, err
	}

	conn := &Connection{Region: region}
	for _, c := range caps {
		switch c {
		case CapabilityEC2:
			conn.EC2 = ec2.New(sess)
		case CapabilityAutoscaling:
			conn.AutoScaling = autoscaling.New(sess)
		case CapabilityELB:
			conn.ELB = elb.New(sess)
		case CapabilityS3:
			conn.S3 = s3.New(sess)
		default:
			return nil, fmt.Errorf("unsupported capability %q", c)
		}
	}
	return conn, nil
}

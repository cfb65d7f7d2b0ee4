// Package cloudtest provides in-memory fakes of the AWS service clients used
// by ghost. Every fake records the operations it served so tests can assert
// that a collaborator was, or was not, called.
package cloudtest

import (
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/cuemby/ghost/pkg/cloud"
)

// recorder tracks calls and injected failures
type recorder struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
}

// record must be called with mu held
func (r *recorder) record(op string) error {
	r.calls = append(r.calls, op)
	if r.errs != nil {
		return r.errs[op]
	}
	return nil
}

// FailOn makes every later call to op return err
func (r *recorder) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errs == nil {
		r.errs = make(map[string]error)
	}
	r.errs[op] = err
}

// Calls returns the operations served so far, in order
func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Called returns how many times op was served
func (r *recorder) Called(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == op {
			n++
		}
	}
	return n
}

// Mutated reports whether any call other than a Describe/Get/List was made
func (r *recorder) Mutated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if !isReadOnly(c) {
			return true
		}
	}
	return false
}

func isReadOnly(op string) bool {
	for _, prefix := range []string{"Describe", "Get", "List"} {
		if len(op) >= len(prefix) && op[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func apiError(code, msg string) error {
	return awserr.New(code, msg, nil)
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Gateway is a cloud.Gateway handing out the same fakes for every region
type Gateway struct {
	AutoScaling *AutoScaling
	ELB         *ELB
	S3          *S3
	EC2         *EC2

	mu      sync.Mutex
	regions []string
}

// NewGateway creates a gateway with fresh fakes
func NewGateway() *Gateway {
	return &Gateway{
		AutoScaling: NewAutoScaling(),
		ELB:         NewELB(),
		S3:          NewS3(),
		EC2:         NewEC2(),
	}
}

// Connect implements cloud.Gateway
func (g *Gateway) Connect(region string, caps ...cloud.Capability) (*cloud.Connection, error) {
	g.mu.Lock()
	g.regions = append(g.regions, region)
	g.mu.Unlock()

	conn := &cloud.Connection{Region: region}
	for _, c := range caps {
		switch c {
		case cloud.CapabilityAutoscaling:
			conn.AutoScaling = g.AutoScaling
		case cloud.CapabilityELB:
			conn.ELB = g.ELB
		case cloud.CapabilityS3:
			conn.S3 = g.S3
		case cloud.CapabilityEC2:
			conn.EC2 = g.EC2
		}
	}
	return conn, nil
}

// Regions returns the regions connections were requested for
func (g *Gateway) Regions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.regions...)
}

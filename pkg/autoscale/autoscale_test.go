package autoscale

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/cuemby/ghost/pkg/cloud/cloudtest"
	"github.com/cuemby/ghost/pkg/config"
	"github.com/cuemby/ghost/pkg/errdefs"
	"github.com/cuemby/ghost/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp() *types.App {
	return &types.App{
		ID:           "app-1",
		Name:         "demo",
		Env:          "prod",
		Role:         "web",
		Region:       "eu-west-1",
		InstanceType: "t3.small",
		Autoscale:    &types.Autoscale{Name: "asg-web", Min: 1, Max: 4, Current: 2},
		Environment: &types.Environment{
			KeyName:        "ops",
			SecurityGroups: []string{"sg-1"},
			Subnets:        []string{"subnet-a", "subnet-b"},
		},
	}
}

func TestSuspendResumeNoGroup(t *testing.T) {
	fake := cloudtest.NewAutoScaling()
	c := NewController(fake)
	ctx := context.Background()

	require.NoError(t, c.Suspend(ctx, ""))
	require.NoError(t, c.Resume(ctx, ""))
	assert.Empty(t, fake.Calls())

	// Configured but missing group is tolerated too
	require.NoError(t, c.Suspend(ctx, "missing"))
	assert.Equal(t, 0, fake.Called("SuspendProcesses"))
}

func TestSuspendResume(t *testing.T) {
	fake := cloudtest.NewAutoScaling()
	fake.AddGroup("asg-web", 1, 4, 2, 2)
	c := NewController(fake)
	ctx := context.Background()

	require.NoError(t, c.Suspend(ctx, "asg-web"))
	assert.True(t, fake.Suspended["asg-web"])

	// Idempotent
	require.NoError(t, c.Suspend(ctx, "asg-web"))
	assert.True(t, fake.Suspended["asg-web"])

	require.NoError(t, c.Resume(ctx, "asg-web"))
	assert.False(t, fake.Suspended["asg-web"])
}

func TestSuspendPropagatesCloudError(t *testing.T) {
	fake := cloudtest.NewAutoScaling()
	fake.AddGroup("asg-web", 1, 4, 2, 0)
	fake.FailOn("SuspendProcesses", errors.New("throttled"))

	err := NewController(fake).Suspend(context.Background(), "asg-web")
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindCloud))
	assert.Equal(t, 1, fake.Called("SuspendProcesses"))
}

func TestGroupQueries(t *testing.T) {
	fake := cloudtest.NewAutoScaling()
	fake.AddGroup("asg-web", 1, 4, 3, 2, "lb-web")
	c := NewController(fake)
	ctx := context.Background()

	exists, err := c.Exists(ctx, "asg-web")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.Exists(ctx, "other")
	require.NoError(t, err)
	assert.False(t, exists)

	instances, err := c.Instances(ctx, "asg-web")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	desired, err := c.DesiredCapacity(ctx, "asg-web")
	require.NoError(t, err)
	assert.Equal(t, 3, desired)

	_, err = c.DesiredCapacity(ctx, "other")
	assert.Error(t, err)

	lbs, err := c.LoadBalancers(ctx, "asg-web")
	require.NoError(t, err)
	assert.Equal(t, []string{"lb-web"}, lbs)
}

func TestCreateLaunchConfigAndUpdateGroup(t *testing.T) {
	fake := cloudtest.NewAutoScaling()
	fake.AddGroup("asg-web", 0, 0, 0, 0)
	c := NewController(fake)
	c.now = func() time.Time { return time.Unix(1500000000, 0) }
	app := testApp()
	ctx := context.Background()

	name, err := c.CreateLaunchConfig(ctx, app, "dXNlcmRhdGE=", "ami-123")
	require.NoError(t, err)
	assert.Equal(t, "launchconfig.prod.eu-west-1.web.demo.ami-123.1500000000", name)

	lc := fake.LaunchConfigs[name]
	require.NotNil(t, lc)
	assert.Equal(t, "ami-123", aws.StringValue(lc.ImageId))
	assert.Equal(t, "t3.small", aws.StringValue(lc.InstanceType))
	assert.Equal(t, "ops", aws.StringValue(lc.KeyName))

	require.NoError(t, c.UpdateGroup(ctx, app, name, true))
	group := fake.Group("asg-web")
	assert.Equal(t, name, aws.StringValue(group.LaunchConfigurationName))
	assert.Equal(t, int64(1), aws.Int64Value(group.MinSize))
	assert.Equal(t, int64(4), aws.Int64Value(group.MaxSize))
	assert.Equal(t, int64(2), aws.Int64Value(group.DesiredCapacity))
	assert.Equal(t, "subnet-a,subnet-b", aws.StringValue(group.VPCZoneIdentifier))
}

func TestAttachDetachLoadBalancers(t *testing.T) {
	fake := cloudtest.NewAutoScaling()
	fake.AddGroup("asg-web", 0, 0, 0, 0, "lb-a")
	c := NewController(fake)
	ctx := context.Background()

	require.NoError(t, c.AttachLoadBalancers(ctx, "asg-web", []string{"lb-b"}))
	lbs, _ := c.LoadBalancers(ctx, "asg-web")
	assert.Equal(t, []string{"lb-a", "lb-b"}, lbs)

	require.NoError(t, c.DetachLoadBalancers(ctx, "asg-web", []string{"lb-a"}))
	lbs, _ = c.LoadBalancers(ctx, "asg-web")
	assert.Equal(t, []string{"lb-b"}, lbs)

	require.NoError(t, c.AttachLoadBalancers(ctx, "asg-web", nil))
	assert.Equal(t, 1, fake.Called("AttachLoadBalancers"))
}

func TestUserData(t *testing.T) {
	cfg := config.Default()
	cfg.BucketS3 = "ghost-packages"
	app := testApp()
	app.BlueGreen = &types.BlueGreen{Color: types.ColorGreen}

	encoded, err := UserData(cfg, app)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	script := string(raw)
	assert.Contains(t, script, `GHOST_BUCKET_S3="ghost-packages"`)
	assert.Contains(t, script, `GHOST_BUCKET_REGION="eu-west-1"`)
	assert.Contains(t, script, `GHOST_COLOR="green"`)
	assert.Contains(t, script, `GHOST_APP="demo"`)
}

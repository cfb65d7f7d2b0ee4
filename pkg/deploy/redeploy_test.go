package deploy

import (
	"context"
	"testing"

	"github.com/cuemby/ghost/pkg/remote"
	"github.com/cuemby/ghost/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedeploy(t *testing.T) {
	f := newFixture(t)
	rec := &types.DeploymentRecord{
		AppID:      f.app.ID,
		Module:     "app",
		Commit:     "0ld0ld0",
		Package:    "1600000000_app_0ld0ld0",
		ModulePath: "/srv/app",
		Timestamp:  1600000000,
	}
	require.NoError(t, f.store.AppendDeployment(rec))

	job := &types.Job{ID: "job-r", Command: "redeploy", Options: []string{rec.ID, "parallel"}}
	msg, err := f.deployer.Redeploy(context.Background(), f.app, job)
	require.NoError(t, err)
	assert.Equal(t, "Redeploy OK: ["+rec.ID+"]", msg)

	entry, ok := f.readManifest(t, f.app).Get("app")
	require.True(t, ok)
	assert.Equal(t, "1600000000_app_0ld0ld0", entry.Package)
	assert.Equal(t, "/srv/app", entry.Path)

	require.Len(t, f.executor.deploys, 1)
	assert.Equal(t, remote.StrategyParallel, f.executor.deploys[0].strategy)
	assert.Equal(t, "/srv/app", f.executor.deploys[0].path)

	// Nothing else happens on a redeploy
	assert.Empty(t, f.asg.Calls())
	assert.Empty(t, f.git.clones)
	assert.Equal(t, 1, f.s3.Called("PutObject"), "manifest only")
	records, _ := f.store.ListDeployments(f.app.ID)
	assert.Len(t, records, 1)
}

func TestRedeployMissingOptions(t *testing.T) {
	f := newFixture(t)

	_, err := f.deployer.Redeploy(context.Background(), f.app, &types.Job{ID: "job-r", Command: "redeploy"})
	require.Error(t, err)
	assert.Equal(t, ErrMissingDeployID, err)
	assert.Empty(t, f.executor.deploys)
}

func TestRedeployUnknownID(t *testing.T) {
	f := newFixture(t)

	_, err := f.deployer.Redeploy(context.Background(), f.app, &types.Job{Options: []string{"nope"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
	assert.Equal(t, 0, f.s3.Called("PutObject"))
}

func TestRedeployOtherApp(t *testing.T) {
	f := newFixture(t)
	rec := &types.DeploymentRecord{AppID: "someone-else", Module: "app", Package: "1_app_c"}
	require.NoError(t, f.store.AppendDeployment(rec))

	_, err := f.deployer.Redeploy(context.Background(), f.app, &types.Job{Options: []string{rec.ID}})
	require.Error(t, err)
	assert.Empty(t, f.executor.deploys)
}

func TestRedeployBadStrategy(t *testing.T) {
	f := newFixture(t)

	_, err := f.deployer.Redeploy(context.Background(), f.app, &types.Job{Options: []string{"id", "rolling"}})
	require.Error(t, err)
	assert.Empty(t, f.executor.deploys)
}

package storage

import (
	"github.com/cuemby/ghost/pkg/types"
)

// AppStore persists App records. Every write is a read-modify-write inside
// a single transaction and bumps App.Version.
type AppStore interface {
	CreateApp(app *types.App) error
	GetApp(id string) (*types.App, error)
	ListApps() ([]*types.App, error)
	UpdateApp(id string, fn func(app *types.App) error) (*types.App, error)
	DeleteApp(id string) error

	// Targeted writes used by the deploy and blue/green pipelines
	MarkModuleInitialized(appID, module string) error
	UpdateAutoscale(appID string, min, max, current int) error
	UpdateAMI(appID, ami string, build *types.BuildInfos) error

	// Blue/green pairs
	FindAlterEgo(app *types.App) (*types.App, error)
	CreateAlterEgo(appID, user string) (*types.App, error)
	Promote(targetID string) error
}

// HistoryStore is the append-only log of successful module deployments
type HistoryStore interface {
	AppendDeployment(rec *types.DeploymentRecord) error
	GetDeployment(id string) (*types.DeploymentRecord, error)
	ListDeployments(appID string) ([]*types.DeploymentRecord, error)
}

// JobStore persists jobs and their status
type JobStore interface {
	CreateJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	ListJobs(status types.JobStatus) ([]*types.Job, error)
	UpdateJobStatus(id string, status types.JobStatus, message string) error
}

// Store defines the interface for ghost state storage
type Store interface {
	AppStore
	HistoryStore
	JobStore

	// Utility
	Close() error
}

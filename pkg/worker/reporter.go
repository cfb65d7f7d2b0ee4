package worker

import (
	"fmt"

	"github.com/cuemby/ghost/pkg/events"
	"github.com/cuemby/ghost/pkg/metrics"
	"github.com/cuemby/ghost/pkg/storage"
	"github.com/cuemby/ghost/pkg/types"
)

// Reporter records job status changes in the store, the metrics and the
// event broker
type Reporter struct {
	store  storage.JobStore
	broker *events.Broker
}

// NewReporter creates a reporter. broker may be nil.
func NewReporter(store storage.JobStore, broker *events.Broker) *Reporter {
	return &Reporter{store: store, broker: broker}
}

// Queued stores a new job in the init status and announces it
func (r *Reporter) Queued(job *types.Job) error {
	job.ID = ""
	job.Status = ""
	if err := r.store.CreateJob(job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	r.publish(events.EventJobQueued, job, "")
	return nil
}

// Started marks job started
func (r *Reporter) Started(job *types.Job) error {
	if err := r.store.UpdateJobStatus(job.ID, types.JobStatusStarted, ""); err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	r.publish(events.EventJobStarted, job, "")
	return nil
}

// Finished stores the terminal status of job, then counts and publishes it.
// Nothing is published when the store refuses the status.
func (r *Reporter) Finished(job *types.Job, status types.JobStatus, msg string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	if err := r.store.UpdateJobStatus(job.ID, status, msg); err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	metrics.JobsTotal.WithLabelValues(job.Command, string(status)).Inc()

	var typ events.EventType
	switch status {
	case types.JobStatusDone:
		typ = events.EventJobDone
	case types.JobStatusAborted:
		typ = events.EventJobAborted
	default:
		typ = events.EventJobFailed
	}
	r.publish(typ, job, msg)
	return nil
}

func (r *Reporter) publish(typ events.EventType, job *types.Job, msg string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{
		Type:    typ,
		JobID:   job.ID,
		AppID:   job.AppID,
		Command: job.Command,
		Message: msg,
	})
}

/*
Package metrics provides Prometheus metrics and health endpoints for ghost.

All metrics are package-level collectors registered on the default registry
at init time. Components increment them directly; there is no collector
goroutine.

# Metrics Catalog

ghost_jobs_total{command, status}:
  - Type: Counter
  - Finished jobs by command and terminal status (done, failed, aborted)

ghost_job_duration_seconds{command}:
  - Type: Histogram
  - Wall time of a job from start to terminal status

ghost_workers_busy / ghost_jobs_queued:
  - Type: Gauge
  - Worker pool occupancy and backlog seen at the last poll

ghost_deployments_total{module}:
  - Type: Counter
  - Successful module deployments (one per DeploymentRecord)

ghost_package_size_bytes:
  - Type: Histogram
  - Size of the module archives uploaded to object storage

ghost_autoscale_operations_total{operation}:
  - Type: Counter
  - suspend, resume, create_launch_config, update_group

ghost_bluegreen_gate_aborts_total{gate}:
  - Type: Counter
  - Blue/green preparations refused by a precondition gate

# Timer Helper

	timer := metrics.NewTimer()
	// ... run the job ...
	timer.ObserveDurationVec(metrics.JobDuration, job.Command)

# Health

SetComponent records the state of a named component. /health is unhealthy as
soon as one component reports an error; /ready additionally requires the
"store" and "worker" components to be registered. Mux serves /metrics,
/health and /ready on one handler.
*/
package metrics

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghost_jobs_total",
			Help: "Total number of finished jobs by command and terminal status",
		},
		[]string{"command", "status"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ghost_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"command"},
	)

	WorkersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghost_workers_busy",
			Help: "Number of workers currently executing a job",
		},
	)

	JobsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghost_jobs_queued",
			Help: "Number of jobs waiting to be picked up",
		},
	)

	// Deployment metrics
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghost_deployments_total",
			Help: "Total number of successful module deployments",
		},
		[]string{"module"},
	)

	PackageBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ghost_package_size_bytes",
			Help:    "Size of uploaded module packages",
			Buckets: prometheus.ExponentialBuckets(1<<16, 4, 10),
		},
	)

	// Cloud metrics
	AutoscaleOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghost_autoscale_operations_total",
			Help: "Total number of autoscaling mutations by operation",
		},
		[]string{"operation"},
	)

	BlueGreenAborts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghost_bluegreen_gate_aborts_total",
			Help: "Total number of blue/green operations aborted by a precondition gate",
		},
		[]string{"gate"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(WorkersBusy)
	prometheus.MustRegister(JobsQueued)
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(PackageBytes)
	prometheus.MustRegister(AutoscaleOperations)
	prometheus.MustRegister(BlueGreenAborts)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

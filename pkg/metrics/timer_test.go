package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	first := timer.Duration()
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, timer.Duration(), first)
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_job_duration_seconds",
			Help:    "Test duration histogram vec",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	timer := NewTimer()
	timer.ObserveDurationVec(vec, "deploy")
	timer.ObserveDurationVec(vec, "deploy")

	assert.Equal(t, 1, testutil.CollectAndCount(vec))
}

func TestCountersRegistered(t *testing.T) {
	JobsTotal.WithLabelValues("deploy", "done").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(JobsTotal.WithLabelValues("deploy", "done")))
}

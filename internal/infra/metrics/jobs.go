package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobRunsTotal,
		jobDuration,
		renewalOutcomesTotal,
	)
}

var (
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Background job runs by job and result.",
		},
		[]string{"job", "result"}, // result: ok|error|skipped
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Background job run duration.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	renewalOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renewal_outcomes_total",
			Help: "Subscriptions handled by the renewal scheduler by outcome.",
		},
		[]string{"outcome"}, // retried, renewed, expired, canceled, failed
	)
)

func IncJobRun(job, result string, d time.Duration) {
	jobRunsTotal.WithLabelValues(norm(job), norm(result)).Inc()
	jobDuration.WithLabelValues(norm(job)).Observe(d.Seconds())
}

func AddRenewalOutcome(outcome string, n int) {
	if n <= 0 {
		return
	}
	renewalOutcomesTotal.WithLabelValues(norm(outcome)).Add(float64(n))
}

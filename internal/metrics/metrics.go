// Package metrics exposes the worker's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClaimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cadence_claims_total",
		Help: "Jobs successfully claimed by this worker.",
	})
	ClaimsEmpty = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cadence_claims_empty_total",
		Help: "Claim attempts that found no eligible job.",
	})
	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cadence_jobs_completed_total",
		Help: "Jobs driven to the completed status.",
	})
	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cadence_jobs_failed_total",
		Help: "Jobs moved to the terminal failed status.",
	})
	JobsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cadence_jobs_retried_total",
		Help: "Step failures re-queued for retry.",
	})
	JobsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cadence_jobs_recovered_total",
		Help: "Stalled jobs reset to pending by the sweeper.",
	})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cadence_step_duration_seconds",
		Help:    "Wall time of workflow step actions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"step", "outcome"})
)

// ObserveStep records one step action's duration and outcome.
func ObserveStep(step string, ok bool, d time.Duration) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	stepDuration.WithLabelValues(step, outcome).Observe(d.Seconds())
}

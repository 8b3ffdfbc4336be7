package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passRunCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repotend_pass_run_total",
			Help: "Number of pass invocations by outcome",
		},
		[]string{"pass", "outcome"},
	)

	passRunFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repotend_pass_run_failed_total",
			Help: "Number of pass invocations that returned an error",
		},
		[]string{"pass"},
	)

	passRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repotend_pass_run_duration_seconds",
			Help:    "Pass invocation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"pass"},
	)

	repoRunCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repotend_repository_run_total",
			Help: "Number of repository runs by final state",
		},
		[]string{"state"},
	)

	lastRepoRunEnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "repotend_last_repository_run_end_timestamp",
			Help: "Unix timestamp of when the last run of a repository ended",
		},
		[]string{"repository"},
	)
)

func PassSucceeded(pass, outcome string, start time.Time) {
	passRunCount.WithLabelValues(pass, outcome).Inc()
	passRunDuration.WithLabelValues(pass).Observe(time.Since(start).Seconds())
}

func PassFailed(pass string) {
	passRunFailed.WithLabelValues(pass).Inc()
}

func RepositoryProcessed(repository, state string) {
	repoRunCount.WithLabelValues(state).Inc()
	lastRepoRunEnd.WithLabelValues(repository).SetToCurrentTime()
}

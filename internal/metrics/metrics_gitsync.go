package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gitSyncFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repotend_git_sync_failed_total",
			Help: "Total number of failed Git sync operations",
		},
		[]string{"checkout"},
	)

	gitSyncCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repotend_git_sync_count_total",
			Help: "Total number of Git sync operations",
		},
	)

	gitSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repotend_git_sync_duration_seconds",
			Help:    "Git sync duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1, 1.5, 2, 5, 10, 30, 60},
		},
		[]string{"checkout", "repo"},
	)

	lastGitSyncEnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "repotend_last_git_sync_end_timestamp",
			Help: "Unix timestamp of when the last git sync ended",
		},
		[]string{"checkout", "repo"},
	)
)

// GitSyncFailed records a failed clone, fetch or push for the named checkout.
func GitSyncFailed(checkout, _ string) {
	gitSyncCount.Inc()
	gitSyncFailed.WithLabelValues(checkout).Inc()
}

// GitSyncSucceeded records a completed sync that started at start.
func GitSyncSucceeded(checkout, repo string, start time.Time) {
	gitSyncCount.Inc()
	gitSyncDuration.WithLabelValues(checkout, repo).Observe(time.Since(start).Seconds())
	lastGitSyncEnd.WithLabelValues(checkout, repo).SetToCurrentTime()
}

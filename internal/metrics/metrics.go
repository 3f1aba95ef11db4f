// Package metrics wires the daemon's commit-duration histogram,
// active-session gauge, lock-denial counter, and rollback counter into
// prometheus/client_golang, in the style of the pack's metrics
// packages (cuemby-warren's pkg/metrics): package-level collectors,
// registered in init, served over promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "confd_commit_duration_seconds",
			Help:    "Time taken to apply a commit's candidate into running.",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "confd_active_sessions",
			Help: "Number of currently open management sessions.",
		},
	)

	LockDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "confd_lock_denied_total",
			Help: "Total number of lock requests denied because another session held the lock.",
		},
	)

	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confd_confirmed_commit_rollbacks_total",
			Help: "Total number of confirmed-commit rollbacks, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(CommitDuration)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(LockDeniedTotal)
	prometheus.MustRegister(RollbacksTotal)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

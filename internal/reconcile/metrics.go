package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	namespace = "fleet"
	subsystem = "reminders"

	remindersGeneratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generated_total",
			Help:      "Total number of reminders created by sync",
		},
	)

	remindersRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "removed_total",
			Help:      "Total number of non-final reminders deleted by sync",
		},
	)

	remindersUpdatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "updated_total",
			Help:      "Total number of reminders whose status or snapshot was rewritten by sync",
		},
	)

	pairErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pair_errors_total",
			Help:      "Total number of failed pair reconciliations by error kind",
		},
		[]string{"kind"},
	)

	syncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	lastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last sync run without pair errors",
		},
	)
)

func recordSync(result *SyncResult) {
	remindersGeneratedTotal.Add(float64(result.GeneratedCount))
	remindersRemovedTotal.Add(float64(result.RemovedCount))
	remindersUpdatedTotal.Add(float64(result.UpdatedCount))
	for _, pe := range result.PairErrors {
		pairErrorsTotal.WithLabelValues(pe.Kind).Inc()
	}
	syncDuration.Observe(result.Duration.Seconds())
	if result.Success {
		lastSuccess.Set(float64(result.StartedAt.Add(result.Duration).Unix()))
	}
}

package txlog

import "github.com/prometheus/client_golang/prometheus"

var (
	appendedEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ultragraph",
			Subsystem: "txlog",
			Name:      "appended_entries_total",
			Help:      "Entries appended to the transaction log, by entry type.",
		}, []string{"type"})

	forceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ultragraph",
			Subsystem: "txlog",
			Name:      "force_duration_seconds",
			Help:      "Time spent forcing the transaction log to stable storage.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		})

	rewinds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ultragraph",
			Subsystem: "txlog",
			Name:      "rewinds_total",
			Help:      "Failed appends or forces cut back out of the transaction log.",
		})

	failedRewinds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ultragraph",
			Subsystem: "txlog",
			Name:      "failed_rewinds_total",
			Help:      "Failed writes that left the transaction log unusable.",
		})
)

func init() {
	prometheus.MustRegister(appendedEntries)
	prometheus.MustRegister(forceDuration)
	prometheus.MustRegister(rewinds)
	prometheus.MustRegister(failedRewinds)
}

package concurrency

import "github.com/prometheus/client_golang/prometheus"

var (
	deadlocksDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ultragraph",
			Subsystem: "lock",
			Name:      "deadlocks_total",
			Help:      "Lock requests rejected because they would close a wait-for cycle.",
		})

	lockTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ultragraph",
			Subsystem: "lock",
			Name:      "timeouts_total",
			Help:      "Lock requests that gave up waiting.",
		})

	lockWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ultragraph",
			Subsystem: "lock",
			Name:      "wait_duration_seconds",
			Help:      "Time a granted lock request spent queued.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
		}, []string{"mode"})
)

func init() {
	prometheus.MustRegister(deadlocksDetected)
	prometheus.MustRegister(lockTimeouts)
	prometheus.MustRegister(lockWaitDuration)
}

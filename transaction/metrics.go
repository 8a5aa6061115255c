package transaction

import "github.com/prometheus/client_golang/prometheus"

var (
	commitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ultragraph",
			Subsystem: "transaction",
			Name:      "commits_total",
			Help:      "Commit calls by outcome.",
		}, []string{"result"})

	rollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ultragraph",
			Subsystem: "transaction",
			Name:      "apply_rollbacks_total",
			Help:      "Committed transactions undone after a failed apply.",
		})
)

func init() {
	prometheus.MustRegister(commitsTotal)
	prometheus.MustRegister(rollbacksTotal)
}

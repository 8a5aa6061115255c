package undo

import "github.com/prometheus/client_golang/prometheus"

var (
	groupsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ultragraph",
			Subsystem: "undo",
			Name:      "groups_total",
			Help:      "Undo groups written and forced.",
		})

	rotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ultragraph",
			Subsystem: "undo",
			Name:      "rotations_total",
			Help:      "Undo log segment rotations.",
		})

	segmentsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ultragraph",
			Subsystem: "undo",
			Name:      "segments_deleted_total",
			Help:      "Sealed undo segments deleted after all their groups retired.",
		})
)

func init() {
	prometheus.MustRegister(groupsWritten)
	prometheus.MustRegister(rotations)
	prometheus.MustRegister(segmentsDeleted)
}

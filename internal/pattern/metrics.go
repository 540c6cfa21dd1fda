// Package-level Prometheus metrics for pattern tracking.
package pattern

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PatternsByStage tracks the lifecycle distribution of tracked patterns.
	PatternsByStage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "patternd",
			Subsystem: "store",
			Name:      "patterns_by_stage",
			Help:      "Number of tracked patterns per lifecycle stage",
		},
		[]string{"stage"},
	)

	// RecognitionsTotal counts recognition calls by outcome.
	// Labels: outcome (created, merged, below_threshold, rejected)
	RecognitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patternd",
			Subsystem: "detector",
			Name:      "recognitions_total",
			Help:      "Total recognition calls by outcome",
		},
		[]string{"outcome"},
	)

	// TransitionsTotal counts lifecycle transitions.
	// Labels: to (developing, mature, evolving, fading, archived)
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patternd",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Total lifecycle stage transitions by target stage",
		},
		[]string{"to"},
	)

	// CorrelationsTotal counts recorded cross-source correlations.
	CorrelationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "patternd",
			Subsystem: "correlator",
			Name:      "correlations_total",
			Help:      "Total cross-source correlations recorded",
		},
	)
)

// UpdateStageMetrics refreshes the stage distribution gauge from a status
// snapshot.
func UpdateStageMetrics(status DetectionStatus) {
	for stage, n := range status.LifecycleDistribution {
		PatternsByStage.WithLabelValues(string(stage)).Set(float64(n))
	}
}

// RecordRecognition records the outcome of one recognition call.
func RecordRecognition(created bool, id string, err error) {
	switch {
	case err != nil:
		RecognitionsTotal.WithLabelValues("rejected").Inc()
	case id == "":
		RecognitionsTotal.WithLabelValues("below_threshold").Inc()
	case created:
		RecognitionsTotal.WithLabelValues("created").Inc()
	default:
		RecognitionsTotal.WithLabelValues("merged").Inc()
	}
}

package pattern

import "sync/atomic"

// detectionMetrics tracks detector outcomes.
type detectionMetrics struct {
	patternsDetected atomic.Int64
	patternsMerged   atomic.Int64
	belowThreshold   atomic.Int64
}

// DetectionMetrics is a snapshot of detector counters.
type DetectionMetrics struct {
	PatternsDetected int64 `json:"patterns_detected"`
	PatternsMerged   int64 `json:"patterns_merged"`
	BelowThreshold   int64 `json:"below_threshold"`
}

// Metrics returns a snapshot of the detector's counters.
func (d *Detector) Metrics() DetectionMetrics {
	return DetectionMetrics{
		PatternsDetected: d.metrics.patternsDetected.Load(),
		PatternsMerged:   d.metrics.patternsMerged.Load(),
		BelowThreshold:   d.metrics.belowThreshold.Load(),
	}
}

// DetectionStatus is the aggregate snapshot of the pattern store and its
// detection pipeline.
type DetectionStatus struct {
	TotalPatterns         int                         `json:"total_patterns"`
	LifecycleDistribution map[Stage]int               `json:"lifecycle_distribution"`
	CategoryDistribution  map[Category]int            `json:"category_distribution"`
	Detection             DetectionMetrics            `json:"detection"`
	Transitions           TransitionCounts            `json:"transitions"`
	FeatureFrequencies    map[Category]map[string]int `json:"feature_frequencies,omitempty"`
	CorrelationCount      int                         `json:"correlation_count"`
}

// Status assembles the detection status snapshot. Reads are eventually
// consistent: each component is sampled independently.
func Status(store *Store, detector *Detector, lifecycle *LifecycleManager) DetectionStatus {
	return DetectionStatus{
		TotalPatterns:         store.Len(),
		LifecycleDistribution: store.CountByStage(),
		CategoryDistribution:  store.CountByCategory(),
		Detection:             detector.Metrics(),
		Transitions:           lifecycle.Counts(),
		FeatureFrequencies:    detector.FeatureFrequencies(),
		CorrelationCount:      store.CorrelationCount(),
	}
}

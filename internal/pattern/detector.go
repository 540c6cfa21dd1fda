package pattern

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultConfidenceThreshold is the minimum confidence for an
	// observation to create or merge into a pattern.
	DefaultConfidenceThreshold = 0.6

	// DefaultSimilarityThreshold is the minimum payload similarity for an
	// observation to merge into an existing pattern instead of creating
	// a new one.
	DefaultSimilarityThreshold = 0.8

	// DefaultEvolutionWindow bounds the rolling merge history per pattern.
	DefaultEvolutionWindow = time.Hour

	// baselineRaise is how much the confidence threshold is raised while
	// recovering from a detection error burst, capped at baselineCap.
	baselineRaise = 0.1
	baselineCap   = 0.8
)

// DefaultPriorityKeys are payload keys merged by taking the maximum of the
// old and new numeric value instead of a weighted average.
func DefaultPriorityKeys() []string {
	return []string{"wisdom_value", "alignment", "sovereignty_alignment"}
}

// Detector scores incoming observations and decides create-vs-merge
// against the store.
type Detector struct {
	store    *Store
	analyzer Analyzer
	logger   *zap.Logger

	mu                  sync.RWMutex
	confidenceThreshold float64
	baselineThreshold   float64
	similarityThreshold float64
	evolutionWindow     time.Duration
	categories          map[Category]struct{}
	priorityKeys        map[string]struct{}

	metrics detectionMetrics

	featMu      sync.Mutex
	featureFreq map[Category]map[string]int

	now func() time.Time
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithConfidenceThreshold overrides the default confidence threshold.
func WithConfidenceThreshold(t float64) DetectorOption {
	return func(d *Detector) {
		d.confidenceThreshold = t
		d.baselineThreshold = t
	}
}

// WithSimilarityThreshold overrides the default similarity threshold.
func WithSimilarityThreshold(t float64) DetectorOption {
	return func(d *Detector) { d.similarityThreshold = t }
}

// WithEvolutionWindow overrides the rolling evolution window.
func WithEvolutionWindow(w time.Duration) DetectorOption {
	return func(d *Detector) { d.evolutionWindow = w }
}

// WithCategories replaces the registered category set.
func WithCategories(cats []Category) DetectorOption {
	return func(d *Detector) {
		d.categories = make(map[Category]struct{}, len(cats))
		for _, c := range cats {
			d.categories[c] = struct{}{}
		}
	}
}

// WithPriorityKeys replaces the priority merge key set.
func WithPriorityKeys(keys []string) DetectorOption {
	return func(d *Detector) {
		d.priorityKeys = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			d.priorityKeys[k] = struct{}{}
		}
	}
}

// WithClock overrides the detector's time source.
func WithClock(now func() time.Time) DetectorOption {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates a detector over the given store and analyzer.
func NewDetector(store *Store, analyzer Analyzer, logger *zap.Logger, opts ...DetectorOption) (*Detector, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Detector{
		store:               store,
		analyzer:            analyzer,
		logger:              logger,
		confidenceThreshold: DefaultConfidenceThreshold,
		baselineThreshold:   DefaultConfidenceThreshold,
		similarityThreshold: DefaultSimilarityThreshold,
		evolutionWindow:     DefaultEvolutionWindow,
		featureFreq:         make(map[Category]map[string]int),
		now:                 time.Now,
	}
	WithCategories(DefaultCategories())(d)
	WithPriorityKeys(DefaultPriorityKeys())(d)
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Recognize ingests one observation. It returns the id of the pattern the
// observation was attributed to and whether that pattern was newly created.
//
// An observation scoring below the confidence threshold is a silent no-op:
// created is false, the id empty, and the store untouched. The only error
// path is an unregistered category. Analyzer failures degrade to a no-op.
func (d *Detector) Recognize(payload map[string]any, category Category, sources []string) (string, bool, error) {
	d.mu.RLock()
	_, known := d.categories[category]
	threshold := d.confidenceThreshold
	simThreshold := d.similarityThreshold
	window := d.evolutionWindow
	d.mu.RUnlock()

	if !known {
		return "", false, &ValidationError{Field: "category", Err: ErrUnknownCategory}
	}
	if len(sources) == 0 {
		sources = []string{"observer"}
	}

	analysis, err := d.analyzer.Analyze(payload, category)
	if err != nil {
		d.logger.Debug("analyzer failed, dropping observation",
			zap.String("category", string(category)),
			zap.Error(err),
		)
		return "", false, nil
	}
	if analysis.Confidence < threshold {
		d.metrics.belowThreshold.Add(1)
		return "", false, nil
	}

	if id, ok := d.findSimilar(payload, category, simThreshold); ok {
		d.merge(id, payload, sources, window)
		return id, false, nil
	}

	id, err := d.create(payload, category, sources, analysis)
	if err != nil {
		d.logger.Warn("pattern creation failed", zap.Error(err))
		return "", false, nil
	}
	return id, true, nil
}

// findSimilar scans same-category patterns for one whose payload similarity
// is at or above the threshold.
func (d *Detector) findSimilar(payload map[string]any, category Category, threshold float64) (string, bool) {
	for _, p := range d.store.ListByCategory(category) {
		if p.Stage == StageArchived {
			continue
		}
		if d.analyzer.Similarity(payload, p.Payload) >= threshold {
			return p.ID, true
		}
	}
	return "", false
}

func (d *Detector) create(payload map[string]any, category Category, sources []string, analysis AnalysisResult) (string, error) {
	now := d.now()
	p := &Pattern{
		ID:           uuid.New().String(),
		Category:     category,
		Name:         patternName(category, analysis),
		Sources:      append([]string(nil), sources...),
		Payload:      clonePayload(payload),
		Confidence:   analysis.Confidence,
		Significance: analysis.Significance,
		Frequency:    1,
		FirstSeen:    now,
		LastSeen:     now,
		Stage:        StageEmerging,
		StageSince:   now,
	}
	if err := d.store.Add(p); err != nil {
		return "", err
	}

	d.trackFeatures(category, payload)
	d.metrics.patternsDetected.Add(1)

	d.logger.Debug("created pattern",
		zap.String("id", p.ID),
		zap.String("category", string(category)),
		zap.Float64("confidence", analysis.Confidence),
	)
	return p.ID, nil
}

// merge folds new observation data into an existing pattern under that
// pattern's lock.
func (d *Detector) merge(id string, payload map[string]any, sources []string, window time.Duration) {
	now := d.now()
	d.store.Update(id, func(p *Pattern) {
		p.Frequency++
		p.LastSeen = now

		p.Evolution = append(p.Evolution, EvolutionEntry{
			Timestamp: now,
			Snapshot:  clonePayload(payload),
			Frequency: p.Frequency,
		})
		p.PruneEvolution(now, window)

		p.Payload = d.mergePayload(p.Payload, payload, p.Frequency)

		for _, tag := range sources {
			if !p.HasSource(tag) {
				p.Sources = append(p.Sources, tag)
			}
		}
	})
	d.metrics.patternsMerged.Add(1)
	d.logger.Debug("merged observation into pattern", zap.String("id", id))
}

// mergePayload folds new data into existing data. New values are weighted
// 1/frequency so their influence shrinks as a pattern accumulates
// observations. Priority keys take the maximum instead; everything else is
// overwritten only when the stringified value actually changed.
func (d *Detector) mergePayload(existing, incoming map[string]any, frequency int) map[string]any {
	merged := clonePayload(existing)
	if merged == nil {
		merged = make(map[string]any, len(incoming))
	}
	weightNew := 1.0 / float64(frequency)
	weightOld := 1.0 - weightNew

	d.mu.RLock()
	priority := d.priorityKeys
	d.mu.RUnlock()

	for key, value := range incoming {
		old, exists := merged[key]
		if !exists {
			merged[key] = value
			continue
		}
		newF, newNum := toFloat(value)
		oldF, oldNum := toFloat(old)

		if _, isPriority := priority[key]; isPriority {
			if newNum && oldNum {
				if newF > oldF {
					merged[key] = newF
				} else {
					merged[key] = oldF
				}
			} else {
				merged[key] = value
			}
			continue
		}

		if newNum && oldNum {
			merged[key] = weightOld*oldF + weightNew*newF
			continue
		}
		if fmt.Sprint(value) != fmt.Sprint(old) {
			merged[key] = value
		}
	}
	return merged
}

func (d *Detector) trackFeatures(category Category, payload map[string]any) {
	d.featMu.Lock()
	defer d.featMu.Unlock()
	freq, ok := d.featureFreq[category]
	if !ok {
		freq = make(map[string]int)
		d.featureFreq[category] = freq
	}
	for key := range payload {
		freq[key]++
	}
}

// FeatureFrequencies returns a copy of the per-category payload key counts
// accumulated at pattern creation time.
func (d *Detector) FeatureFrequencies() map[Category]map[string]int {
	d.featMu.Lock()
	defer d.featMu.Unlock()
	out := make(map[Category]map[string]int, len(d.featureFreq))
	for c, freq := range d.featureFreq {
		cp := make(map[string]int, len(freq))
		for k, n := range freq {
			cp[k] = n
		}
		out[c] = cp
	}
	return out
}

// Trend analyzes the merge history of a pattern using the detector's
// analyzer.
func (d *Detector) Trend(p *Pattern) EvolutionTrend {
	return AnalyzeEvolution(p, d.analyzer)
}

// RaiseBaseline temporarily raises the confidence threshold after a
// detection error burst, dampening churn while the worker recovers.
// RestoreBaseline undoes it. Raising twice does not stack.
func (d *Detector) RaiseBaseline() {
	d.mu.Lock()
	defer d.mu.Unlock()
	raised := d.baselineThreshold + baselineRaise
	if raised > baselineCap {
		raised = baselineCap
	}
	d.confidenceThreshold = raised
}

// RestoreBaseline restores the configured confidence threshold.
func (d *Detector) RestoreBaseline() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.confidenceThreshold = d.baselineThreshold
}

// ConfidenceThreshold returns the currently effective confidence threshold.
func (d *Detector) ConfidenceThreshold() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.confidenceThreshold
}

func patternName(category Category, analysis AnalysisResult) string {
	base := titleCase(strings.ReplaceAll(string(category), "_", " "))

	var qualifiers []string
	if analysis.Confidence > 0.9 {
		qualifiers = append(qualifiers, "High-Confidence")
	}
	if analysis.Significance > 0.9 {
		qualifiers = append(qualifiers, "Significant")
	}
	if analysis.Complexity > 0.8 {
		qualifiers = append(qualifiers, "Complex")
	}
	if len(qualifiers) == 0 {
		return base
	}
	return strings.Join(qualifiers, " ") + " " + base
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

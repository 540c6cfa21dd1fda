package pattern

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// correlationWindow is how close two patterns' last sightings must be
	// for a temporal correlation to be considered at all.
	correlationWindow = time.Minute

	// correlationMinStrength is the strength above which a correlation is
	// recorded.
	correlationMinStrength = 0.7
)

// Correlator detects temporal correlations between same-category patterns
// reported by different source tags.
type Correlator struct {
	store  *Store
	logger *zap.Logger

	found atomic.Int64
}

// NewCorrelator creates a correlator over the given store.
func NewCorrelator(store *Store, logger *zap.Logger) (*Correlator, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{store: store, logger: logger}, nil
}

// Sweep groups patterns by source tag and scores every same-category pair
// across distinct tags. Pairs seen within a minute of each other score on
// frequency similarity and timing proximity; a strength above 0.7 records
// a correlation. Recording is idempotent across sweeps.
func (c *Correlator) Sweep(now time.Time) {
	bySource := make(map[string][]*Pattern)
	for _, p := range c.store.List() {
		for _, tag := range p.Sources {
			bySource[tag] = append(bySource[tag], p)
		}
	}

	tags := make([]string, 0, len(bySource))
	for tag := range bySource {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for i := 0; i < len(tags); i++ {
		for j := i + 1; j < len(tags); j++ {
			c.correlateTagPair(tags[i], bySource[tags[i]], tags[j], bySource[tags[j]], now)
		}
	}
}

func (c *Correlator) correlateTagPair(tagA string, patternsA []*Pattern, tagB string, patternsB []*Pattern, now time.Time) {
	for _, pa := range patternsA {
		for _, pb := range patternsB {
			if pa.ID == pb.ID || pa.Category != pb.Category {
				continue
			}
			strength := TemporalCorrelation(pa, pb)
			if strength <= correlationMinStrength {
				continue
			}
			rec := CorrelationRecord{
				ID:           CorrelationID(tagA, tagB, pa.ID, pb.ID),
				SourceA:      tagA,
				SourceB:      tagB,
				PatternAID:   pa.ID,
				PatternBID:   pb.ID,
				Strength:     strength,
				DiscoveredAt: now,
			}
			if c.store.RecordCorrelation(rec) {
				c.found.Add(1)
				CorrelationsTotal.Inc()
				c.logger.Info("discovered cross-source correlation",
					zap.String("source_a", tagA),
					zap.String("source_b", tagB),
					zap.Float64("strength", strength),
				)
			}
		}
	}
}

// TemporalCorrelation scores the temporal relationship between two
// patterns. Patterns last seen more than a minute apart score zero;
// within the window the score is the mean of frequency similarity and
// timing proximity.
func TemporalCorrelation(a, b *Pattern) float64 {
	timeDiff := a.LastSeen.Sub(b.LastSeen)
	if timeDiff < 0 {
		timeDiff = -timeDiff
	}
	if timeDiff >= correlationWindow {
		return 0.0
	}

	maxFreq := math.Max(math.Max(float64(a.Frequency), float64(b.Frequency)), 1)
	freqSim := 1.0 - math.Abs(float64(a.Frequency)-float64(b.Frequency))/maxFreq
	timeCorr := 1.0 - timeDiff.Seconds()/correlationWindow.Seconds()

	return (freqSim + timeCorr) / 2.0
}

// Found returns how many correlations this correlator has recorded.
func (c *Correlator) Found() int64 {
	return c.found.Load()
}

// Package pattern provides the observation store for patternd.
//
// Observations are deduplicated into tracked patterns: a confidence-scored,
// frequency-counted record that moves through a lifecycle state machine and
// can be temporally correlated with patterns reported by other sources.
package pattern

import (
	"errors"
	"fmt"
	"time"
)

// Common errors for pattern operations.
var (
	ErrUnknownCategory  = errors.New("unknown pattern category")
	ErrPatternNotFound  = errors.New("pattern not found")
	ErrInvalidScore     = errors.New("score must be between 0.0 and 1.0")
	ErrInvalidFrequency = errors.New("frequency must be at least 1")
)

// ValidationError marks synchronous caller errors (bad category, bad config
// value). It never originates inside a worker cycle.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Category classifies a pattern. The set is open: categories are registered
// at construction time and unregistered categories are rejected.
type Category string

const (
	CategoryWisdom     Category = "wisdom"
	CategoryChoice     Category = "choice"
	CategoryResistance Category = "resistance"
	CategoryAlignment  Category = "alignment"
)

// DefaultCategories returns the categories registered when the caller does
// not supply its own set.
func DefaultCategories() []Category {
	return []Category{CategoryWisdom, CategoryChoice, CategoryResistance, CategoryAlignment}
}

// Stage is a pattern's lifecycle stage.
type Stage string

const (
	StageEmerging   Stage = "emerging"
	StageDeveloping Stage = "developing"
	StageMature     Stage = "mature"
	StageEvolving   Stage = "evolving"
	StageFading     Stage = "fading"
	StageArchived   Stage = "archived"
)

// Stages lists all lifecycle stages in progression order.
func Stages() []Stage {
	return []Stage{StageEmerging, StageDeveloping, StageMature, StageEvolving, StageFading, StageArchived}
}

// EvolutionEntry is one snapshot in a pattern's merge history.
type EvolutionEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Snapshot  map[string]any `json:"snapshot"`
	Frequency int            `json:"frequency"`
}

// Pattern is a deduplicated, confidence-scored observation record.
//
// Confidence and Significance stay within [0,1], Frequency is at least 1,
// and LastSeen never precedes FirstSeen. Once Stage reaches StageArchived
// the stage is never mutated again.
type Pattern struct {
	ID           string           `json:"id"`
	Category     Category         `json:"category"`
	Name         string           `json:"name"`
	Sources      []string         `json:"sources"`
	Payload      map[string]any   `json:"payload"`
	Confidence   float64          `json:"confidence"`
	Significance float64          `json:"significance"`
	Frequency    int              `json:"frequency"`
	FirstSeen    time.Time        `json:"first_seen"`
	LastSeen     time.Time        `json:"last_seen"`
	Evolution    []EvolutionEntry `json:"evolution,omitempty"`
	Stage        Stage            `json:"stage"`

	// StageSince records when the pattern entered its current stage.
	StageSince time.Time `json:"stage_since"`
}

// Validate checks the pattern invariants.
func (p *Pattern) Validate() error {
	if p.ID == "" {
		return errors.New("pattern ID cannot be empty")
	}
	if p.Category == "" {
		return ErrUnknownCategory
	}
	if p.Confidence < 0.0 || p.Confidence > 1.0 {
		return fmt.Errorf("confidence: %w", ErrInvalidScore)
	}
	if p.Significance < 0.0 || p.Significance > 1.0 {
		return fmt.Errorf("significance: %w", ErrInvalidScore)
	}
	if p.Frequency < 1 {
		return ErrInvalidFrequency
	}
	if p.LastSeen.Before(p.FirstSeen) {
		return errors.New("last seen cannot precede first seen")
	}
	return nil
}

// HasSource reports whether the pattern carries the given source tag.
func (p *Pattern) HasSource(tag string) bool {
	for _, s := range p.Sources {
		if s == tag {
			return true
		}
	}
	return false
}

// PruneEvolution drops evolution entries older than the window, measured
// back from now. Called on every merge so the history stays bounded.
func (p *Pattern) PruneEvolution(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	kept := p.Evolution[:0]
	for _, e := range p.Evolution {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	p.Evolution = kept
}

// EvolutionSince counts evolution entries recorded within the trailing
// window ending at now.
func (p *Pattern) EvolutionSince(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	n := 0
	for _, e := range p.Evolution {
		if e.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand to callers while the original
// keeps being mutated under the store's lock.
func (p *Pattern) Clone() *Pattern {
	cp := *p
	cp.Sources = append([]string(nil), p.Sources...)
	cp.Payload = clonePayload(p.Payload)
	cp.Evolution = make([]EvolutionEntry, len(p.Evolution))
	for i, e := range p.Evolution {
		cp.Evolution[i] = EvolutionEntry{
			Timestamp: e.Timestamp,
			Snapshot:  clonePayload(e.Snapshot),
			Frequency: e.Frequency,
		}
	}
	return &cp
}

func clonePayload(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// CorrelationRecord is a recorded temporal relationship between two
// same-category patterns reported by different source tags.
//
// The ID is derived deterministically from the source pair and pattern pair
// so repeated sweeps over an unchanged store never duplicate a record.
type CorrelationRecord struct {
	ID           string    `json:"id"`
	SourceA      string    `json:"source_a"`
	SourceB      string    `json:"source_b"`
	PatternAID   string    `json:"pattern_a_id"`
	PatternBID   string    `json:"pattern_b_id"`
	Strength     float64   `json:"strength"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// CorrelationID builds the deterministic record id for a source/pattern pair.
func CorrelationID(sourceA, sourceB, patternA, patternB string) string {
	return fmt.Sprintf("corr_%s_%s_%s_%s", sourceA, sourceB, patternA, patternB)
}

package pattern

import (
	"sort"
	"sync"
	"time"
)

// Store holds tracked patterns keyed by id plus the correlation records
// discovered between them. It carries no scheduling of its own.
//
// Thread safety: the pattern map is guarded by an RWMutex and every pattern
// additionally carries its own mutex, so concurrent merges against the same
// pattern are serialized and never lose updates. Reads hand out deep copies.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	corrMu       sync.RWMutex
	correlations map[string]CorrelationRecord
}

type entry struct {
	mu sync.Mutex
	p  *Pattern
}

// NewStore creates an empty pattern store.
func NewStore() *Store {
	return &Store{
		entries:      make(map[string]*entry),
		correlations: make(map[string]CorrelationRecord),
	}
}

// Add inserts a new pattern. The pattern must pass Validate.
func (s *Store) Add(p *Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[p.ID] = &entry{p: p}
	return nil
}

// Get returns a copy of the pattern with the given id.
func (s *Store) Get(id string) (*Pattern, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.Clone(), true
}

// Update applies fn to the pattern under its per-pattern lock. Returns
// false when the id is unknown. fn must not retain the pattern.
func (s *Store) Update(id string, fn func(*Pattern)) bool {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.p)
	return true
}

// List returns copies of all tracked patterns, ordered by id for
// deterministic iteration.
func (s *Store) List() []*Pattern {
	s.mu.RLock()
	out := make([]*Pattern, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		out = append(out, e.p.Clone())
		e.mu.Unlock()
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListByCategory returns copies of all patterns in the given category.
func (s *Store) ListByCategory(c Category) []*Pattern {
	all := s.List()
	out := all[:0]
	for _, p := range all {
		if p.Category == c {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of tracked patterns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// CountByStage returns the lifecycle distribution. Every stage appears in
// the result even when empty.
func (s *Store) CountByStage() map[Stage]int {
	dist := make(map[Stage]int, 6)
	for _, st := range Stages() {
		dist[st] = 0
	}
	for _, p := range s.List() {
		dist[p.Stage]++
	}
	return dist
}

// CountByCategory returns the category distribution of tracked patterns.
func (s *Store) CountByCategory() map[Category]int {
	dist := make(map[Category]int)
	for _, p := range s.List() {
		dist[p.Category]++
	}
	return dist
}

// RecordCorrelation inserts a correlation record. Recording is idempotent:
// an existing record with the same id is neither duplicated nor
// overwritten. Returns true when the record was newly inserted.
func (s *Store) RecordCorrelation(rec CorrelationRecord) bool {
	s.corrMu.Lock()
	defer s.corrMu.Unlock()
	if _, exists := s.correlations[rec.ID]; exists {
		return false
	}
	s.correlations[rec.ID] = rec
	return true
}

// Correlations returns all recorded correlations ordered by discovery time.
func (s *Store) Correlations() []CorrelationRecord {
	s.corrMu.RLock()
	out := make([]CorrelationRecord, 0, len(s.correlations))
	for _, rec := range s.correlations {
		out = append(out, rec)
	}
	s.corrMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DiscoveredAt.Before(out[j].DiscoveredAt) })
	return out
}

// CorrelationCount returns the number of recorded correlations.
func (s *Store) CorrelationCount() int {
	s.corrMu.RLock()
	defer s.corrMu.RUnlock()
	return len(s.correlations)
}

// EvictArchived removes archived patterns whose grace period has elapsed,
// measured from when they entered the archived stage. Returns the number
// of evicted patterns.
func (s *Store) EvictArchived(now time.Time, grace time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, e := range s.entries {
		e.mu.Lock()
		stale := e.p.Stage == StageArchived && now.Sub(e.p.StageSince) >= grace
		e.mu.Unlock()
		if stale {
			delete(s.entries, id)
			evicted++
		}
	}
	return evicted
}

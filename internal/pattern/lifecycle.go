package pattern

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// LifecycleConfig holds the transition thresholds for the lifecycle sweep.
type LifecycleConfig struct {
	// EmergingMinAge and EmergingMinFrequency gate emerging -> developing.
	EmergingMinAge       time.Duration `koanf:"emerging_min_age"`
	EmergingMinFrequency int           `koanf:"emerging_min_frequency"`

	// DevelopingMinStageAge and DevelopingMinFrequency gate
	// developing -> mature.
	DevelopingMinStageAge  time.Duration `koanf:"developing_min_stage_age"`
	DevelopingMinFrequency int           `koanf:"developing_min_frequency"`

	// MatureIdleTimeout gates mature -> fading: a mature pattern not seen
	// for this long starts fading. One consistent threshold is applied for
	// every sweep.
	MatureIdleTimeout time.Duration `koanf:"mature_idle_timeout"`

	// EvolvingWindow and EvolvingMinEntries gate mature -> evolving: more
	// than EvolvingMinEntries evolution snapshots within the trailing
	// window mark the pattern as evolving.
	EvolvingWindow     time.Duration `koanf:"evolving_window"`
	EvolvingMinEntries int           `koanf:"evolving_min_entries"`

	// FadingToArchive gates fading -> archived by time in stage.
	FadingToArchive time.Duration `koanf:"fading_to_archive"`

	// ArchiveGrace is how long archived patterns stay in the store before
	// eviction. Zero disables eviction.
	ArchiveGrace time.Duration `koanf:"archive_grace"`
}

// DefaultLifecycleConfig returns the documented default thresholds.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		EmergingMinAge:         time.Minute,
		EmergingMinFrequency:   3,
		DevelopingMinStageAge:  10 * time.Minute,
		DevelopingMinFrequency: 10,
		MatureIdleTimeout:      time.Hour,
		EvolvingWindow:         10 * time.Minute,
		EvolvingMinEntries:     5,
		FadingToArchive:        2 * time.Hour,
		ArchiveGrace:           24 * time.Hour,
	}
}

// Validate checks the thresholds are usable.
func (c LifecycleConfig) Validate() error {
	if c.EmergingMinAge <= 0 || c.DevelopingMinStageAge <= 0 ||
		c.MatureIdleTimeout <= 0 || c.EvolvingWindow <= 0 || c.FadingToArchive <= 0 {
		return fmt.Errorf("lifecycle durations must be positive")
	}
	if c.EmergingMinFrequency < 0 || c.DevelopingMinFrequency < 0 || c.EvolvingMinEntries < 0 {
		return fmt.Errorf("lifecycle frequency thresholds cannot be negative")
	}
	if c.ArchiveGrace < 0 {
		return fmt.Errorf("archive grace cannot be negative")
	}
	return nil
}

// TransitionCounts is a snapshot of lifecycle transition counters.
type TransitionCounts struct {
	Developed int64 `json:"developed"`
	Matured   int64 `json:"matured"`
	Evolved   int64 `json:"evolved"`
	Faded     int64 `json:"faded"`
	Archived  int64 `json:"archived"`
	Evicted   int64 `json:"evicted"`
}

// LifecycleManager advances patterns through their lifecycle stages. The
// sweep is idempotent: re-running it on an unchanged pattern set produces
// no further transitions.
type LifecycleManager struct {
	store  *Store
	cfg    LifecycleConfig
	logger *zap.Logger

	developed atomic.Int64
	matured   atomic.Int64
	evolved   atomic.Int64
	faded     atomic.Int64
	archived  atomic.Int64
	evicted   atomic.Int64
}

// NewLifecycleManager creates a lifecycle manager over the given store.
func NewLifecycleManager(store *Store, cfg LifecycleConfig, logger *zap.Logger) (*LifecycleManager, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleManager{store: store, cfg: cfg, logger: logger}, nil
}

// Sweep evaluates every tracked pattern against the transition thresholds
// at the given instant and applies at most one transition per pattern.
// Archived is terminal: archived patterns are only ever evicted.
func (m *LifecycleManager) Sweep(now time.Time) {
	for _, p := range m.store.List() {
		switch p.Stage {
		case StageEmerging:
			if now.Sub(p.StageSince) >= m.cfg.EmergingMinAge && p.Frequency > m.cfg.EmergingMinFrequency {
				m.transition(p.ID, StageEmerging, StageDeveloping, now, &m.developed)
			}
		case StageDeveloping:
			if now.Sub(p.StageSince) >= m.cfg.DevelopingMinStageAge && p.Frequency > m.cfg.DevelopingMinFrequency {
				m.transition(p.ID, StageDeveloping, StageMature, now, &m.matured)
			}
		case StageMature:
			if now.Sub(p.LastSeen) > m.cfg.MatureIdleTimeout {
				m.transition(p.ID, StageMature, StageFading, now, &m.faded)
			} else if p.EvolutionSince(now, m.cfg.EvolvingWindow) > m.cfg.EvolvingMinEntries {
				m.transition(p.ID, StageMature, StageEvolving, now, &m.evolved)
			}
		case StageEvolving:
			// An evolving pattern settles back to mature once its merge
			// rate drops below the evolving threshold.
			if p.EvolutionSince(now, m.cfg.EvolvingWindow) <= m.cfg.EvolvingMinEntries {
				m.transition(p.ID, StageEvolving, StageMature, now, nil)
			}
		case StageFading:
			if now.Sub(p.StageSince) >= m.cfg.FadingToArchive {
				m.transition(p.ID, StageFading, StageArchived, now, &m.archived)
			}
		case StageArchived:
			// Terminal.
		}
	}

	if m.cfg.ArchiveGrace > 0 {
		if n := m.store.EvictArchived(now, m.cfg.ArchiveGrace); n > 0 {
			m.evicted.Add(int64(n))
			m.logger.Debug("evicted archived patterns", zap.Int("count", n))
		}
	}
}

// transition moves a pattern from one stage to another. The stage is
// re-checked under the pattern's lock so a concurrent sweep or merge never
// double-applies a transition, and an archived pattern is never moved.
func (m *LifecycleManager) transition(id string, from, to Stage, now time.Time, counter *atomic.Int64) {
	applied := false
	m.store.Update(id, func(p *Pattern) {
		if p.Stage != from || p.Stage == StageArchived {
			return
		}
		p.Stage = to
		p.StageSince = now
		applied = true
	})
	if !applied {
		return
	}
	if counter != nil {
		counter.Add(1)
	}
	TransitionsTotal.WithLabelValues(string(to)).Inc()
	m.logger.Debug("pattern transitioned",
		zap.String("id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
}

// Counts returns a snapshot of the transition counters.
func (m *LifecycleManager) Counts() TransitionCounts {
	return TransitionCounts{
		Developed: m.developed.Load(),
		Matured:   m.matured.Load(),
		Evolved:   m.evolved.Load(),
		Faded:     m.faded.Load(),
		Archived:  m.archived.Load(),
		Evicted:   m.evicted.Load(),
	}
}

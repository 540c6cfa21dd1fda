package orchestrator

import (
	"sync"
	"time"
)

const (
	defaultMaxRecoveryAttempts = 3
	defaultRecoverySpacing     = time.Second

	minAdaptiveMultiplier = 0.5
	maxAdaptiveMultiplier = 2.0
)

// workerState holds all mutable per-worker scheduling and health state
// behind one mutex. The worker loop, the coordination worker, and status
// readers all touch it concurrently.
type workerState struct {
	mu sync.Mutex

	baseHz       float64
	modeScale    float64
	adaptive     float64
	realignScale float64

	active       bool
	healthVal    float64
	lastUpdateAt time.Time

	cycles        int64
	avgCycle      time.Duration
	errors        int64
	lastSuccessAt time.Time
	efficiency    float64

	recoveryAttempts int
}

func (s *workerState) init(targetHz float64) {
	s.baseHz = targetHz
	s.modeScale = 1.0
	s.adaptive = 1.0
	s.realignScale = 1.0
	s.healthVal = 1.0
	s.efficiency = 1.0
	s.lastUpdateAt = time.Now()
}

func (s *workerState) setActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

func (s *workerState) effectiveHz() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveHzLocked()
}

func (s *workerState) effectiveHzLocked() float64 {
	hz := s.baseHz * s.modeScale * s.adaptive * s.realignScale
	if hz <= 0 {
		hz = s.baseHz
	}
	return hz
}

func (s *workerState) period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(float64(time.Second) / s.effectiveHzLocked())
}

func (s *workerState) targetHz() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseHz
}

func (s *workerState) setTargetHz(hz float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseHz = hz
}

func (s *workerState) setModeScale(scale float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modeScale = scale
}

func (s *workerState) setRealignScale(scale float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realignScale = scale
}

// recordSuccess updates cycle counters, the running-average cycle time,
// and the efficiency score. Cycles that finish within the target period
// nudge efficiency up by 0.01 toward 1.0; slow cycles set it to the ratio
// of target over actual.
func (s *workerState) recordSuccess(elapsed, target time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycles++
	n := s.cycles
	s.avgCycle = time.Duration((int64(s.avgCycle)*(n-1) + int64(elapsed)) / n)
	s.lastSuccessAt = time.Now()
	s.lastUpdateAt = s.lastSuccessAt
	s.recoveryAttempts = 0

	if elapsed <= target {
		s.efficiency += 0.01
		if s.efficiency > 1.0 {
			s.efficiency = 1.0
		}
	} else {
		s.efficiency = float64(target) / float64(elapsed)
	}
}

// recordError counts the error, degrades health by 0.3, and returns the
// current recovery attempt number.
func (s *workerState) recordError() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errors++
	s.healthVal -= 0.3
	if s.healthVal < 0 {
		s.healthVal = 0
	}
	s.recoveryAttempts++
	return s.recoveryAttempts
}

// updateHealth is the coordination cycle's health pass: recent activity
// raises the score, staleness lowers it, then the score is blended with
// efficiency and penalized when the error rate exceeds 10%.
func (s *workerState) updateHealth(now time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	since := now.Sub(s.lastUpdateAt)
	switch {
	case since < time.Second:
		s.healthVal += 0.1
		if s.healthVal > 1.0 {
			s.healthVal = 1.0
		}
	case since > 5*time.Second:
		s.healthVal -= 0.2
		if s.healthVal < 0 {
			s.healthVal = 0
		}
	}

	s.healthVal = (s.healthVal + s.efficiency) / 2

	total := s.cycles + s.errors
	if total > 0 && float64(s.errors)/float64(total) > 0.1 {
		s.healthVal *= 0.9
	}
	return s.healthVal
}

// adjustAdaptive applies the persistent adaptive multiplier step: low
// efficiency shrinks the multiplier by 10%, near-perfect efficiency grows
// it by 5%, always clamped to [0.5, 2.0]. The multiplier is never reset.
func (s *workerState) adjustAdaptive() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.efficiency < 0.7:
		s.adaptive *= 0.9
	case s.efficiency > 0.95:
		s.adaptive *= 1.05
	}
	if s.adaptive < minAdaptiveMultiplier {
		s.adaptive = minAdaptiveMultiplier
	}
	if s.adaptive > maxAdaptiveMultiplier {
		s.adaptive = maxAdaptiveMultiplier
	}
	return s.adaptive
}

func (s *workerState) healthScore() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthVal
}

func (s *workerState) zeroHealth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthVal = 0
	s.active = false
}

func (s *workerState) metricsSnapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Metrics{
		CyclesCompleted:   s.cycles,
		AvgCycleTime:      s.avgCycle,
		ErrorsEncountered: s.errors,
		LastSuccessAt:     s.lastSuccessAt,
		EfficiencyScore:   s.efficiency,
	}
}

func (s *workerState) healthSnapshot() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Health{
		Active:       s.active,
		HealthScore:  s.healthVal,
		LastUpdateAt: s.lastUpdateAt,
	}
}

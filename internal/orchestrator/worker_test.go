package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerStateEfficiency(t *testing.T) {
	t.Run("fast cycles nudge efficiency toward 1.0", func(t *testing.T) {
		var s workerState
		s.init(100)

		s.mu.Lock()
		s.efficiency = 0.5
		s.mu.Unlock()

		s.recordSuccess(time.Millisecond, 10*time.Millisecond)
		assert.InDelta(t, 0.51, s.metricsSnapshot().EfficiencyScore, 1e-9)
	})

	t.Run("efficiency is capped at 1.0", func(t *testing.T) {
		var s workerState
		s.init(100)

		for i := 0; i < 10; i++ {
			s.recordSuccess(time.Millisecond, 10*time.Millisecond)
		}
		assert.InDelta(t, 1.0, s.metricsSnapshot().EfficiencyScore, 1e-9)
	})

	t.Run("slow cycles set the target ratio", func(t *testing.T) {
		var s workerState
		s.init(100)

		s.recordSuccess(20*time.Millisecond, 10*time.Millisecond)
		assert.InDelta(t, 0.5, s.metricsSnapshot().EfficiencyScore, 1e-9)
	})

	t.Run("running average cycle time", func(t *testing.T) {
		var s workerState
		s.init(100)

		s.recordSuccess(10*time.Millisecond, 20*time.Millisecond)
		s.recordSuccess(30*time.Millisecond, 20*time.Millisecond)

		m := s.metricsSnapshot()
		assert.Equal(t, int64(2), m.CyclesCompleted)
		assert.Equal(t, 20*time.Millisecond, m.AvgCycleTime)
	})
}

func TestWorkerStateErrors(t *testing.T) {
	t.Run("each error degrades health by 0.3", func(t *testing.T) {
		var s workerState
		s.init(100)

		s.recordError()
		assert.InDelta(t, 0.7, s.healthScore(), 1e-9)
		s.recordError()
		assert.InDelta(t, 0.4, s.healthScore(), 1e-9)
		s.recordError()
		assert.InDelta(t, 0.1, s.healthScore(), 1e-9)

		// clamped at zero
		s.recordError()
		assert.InDelta(t, 0.0, s.healthScore(), 1e-9)
		assert.Equal(t, int64(4), s.metricsSnapshot().ErrorsEncountered)
	})

	t.Run("recovery attempts count up and reset on success", func(t *testing.T) {
		var s workerState
		s.init(100)

		assert.Equal(t, 1, s.recordError())
		assert.Equal(t, 2, s.recordError())

		s.recordSuccess(time.Millisecond, 10*time.Millisecond)
		assert.Equal(t, 1, s.recordError())
	})
}

func TestWorkerStateUpdateHealth(t *testing.T) {
	t.Run("recent activity raises the score", func(t *testing.T) {
		var s workerState
		s.init(100)
		now := time.Now()

		s.mu.Lock()
		s.healthVal = 0.5
		s.efficiency = 0.9
		s.lastUpdateAt = now.Add(-100 * time.Millisecond)
		s.mu.Unlock()

		// 0.5 + 0.1 recency bonus, blended with efficiency
		assert.InDelta(t, (0.6+0.9)/2, s.updateHealth(now), 1e-9)
	})

	t.Run("staleness lowers the score", func(t *testing.T) {
		var s workerState
		s.init(100)
		now := time.Now()

		s.mu.Lock()
		s.healthVal = 0.5
		s.efficiency = 0.9
		s.lastUpdateAt = now.Add(-10 * time.Second)
		s.mu.Unlock()

		assert.InDelta(t, (0.3+0.9)/2, s.updateHealth(now), 1e-9)
	})

	t.Run("error rate above 10 percent penalizes", func(t *testing.T) {
		var s workerState
		s.init(100)
		now := time.Now()

		s.mu.Lock()
		s.healthVal = 1.0
		s.efficiency = 1.0
		s.cycles = 8
		s.errors = 2
		s.lastUpdateAt = now.Add(-2 * time.Second)
		s.mu.Unlock()

		// no recency adjustment between 1s and 5s, then the 0.9 penalty
		assert.InDelta(t, 0.9, s.updateHealth(now), 1e-9)
	})
}

func TestWorkerStateAdaptiveMultiplier(t *testing.T) {
	t.Run("low efficiency slows the worker", func(t *testing.T) {
		var s workerState
		s.init(100)

		s.mu.Lock()
		s.efficiency = 0.5
		s.mu.Unlock()

		assert.InDelta(t, 0.9, s.adjustAdaptive(), 1e-9)
		assert.InDelta(t, 0.81, s.adjustAdaptive(), 1e-9)
	})

	t.Run("high efficiency speeds it up", func(t *testing.T) {
		var s workerState
		s.init(100)

		s.mu.Lock()
		s.efficiency = 0.99
		s.mu.Unlock()

		assert.InDelta(t, 1.05, s.adjustAdaptive(), 1e-9)
	})

	t.Run("middling efficiency holds steady", func(t *testing.T) {
		var s workerState
		s.init(100)

		s.mu.Lock()
		s.efficiency = 0.85
		s.mu.Unlock()

		assert.InDelta(t, 1.0, s.adjustAdaptive(), 1e-9)
	})

	t.Run("clamped to the floor", func(t *testing.T) {
		var s workerState
		s.init(100)

		s.mu.Lock()
		s.efficiency = 0.1
		s.mu.Unlock()

		for i := 0; i < 50; i++ {
			s.adjustAdaptive()
		}
		assert.InDelta(t, minAdaptiveMultiplier, s.adjustAdaptive(), 1e-9)
	})

	t.Run("clamped to the ceiling", func(t *testing.T) {
		var s workerState
		s.init(100)

		s.mu.Lock()
		s.efficiency = 1.0
		s.mu.Unlock()

		for i := 0; i < 50; i++ {
			s.adjustAdaptive()
		}
		assert.InDelta(t, maxAdaptiveMultiplier, s.adjustAdaptive(), 1e-9)
	})
}

func TestWorkerStateEffectiveHz(t *testing.T) {
	var s workerState
	s.init(90)

	assert.InDelta(t, 90, s.effectiveHz(), 1e-9)

	s.setModeScale(0.5)
	assert.InDelta(t, 45, s.effectiveHz(), 1e-9)

	s.setRealignScale(0.8)
	assert.InDelta(t, 36, s.effectiveHz(), 1e-9)

	s.setRealignScale(1.0)
	s.setModeScale(1.5)
	assert.InDelta(t, 135, s.effectiveHz(), 1e-9)

	hz := 135.0
	assert.Equal(t, time.Duration(float64(time.Second)/hz), s.period())
}

func TestWorkerLoopRunsCycles(t *testing.T) {
	var cycles atomic.Int64
	w := newWorker("fast", 200, func(ctx context.Context) error {
		cycles.Add(1)
		return nil
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.loop(ctx)

	assert.GreaterOrEqual(t, cycles.Load(), int64(3))
	m := w.Metrics()
	assert.GreaterOrEqual(t, m.CyclesCompleted, int64(3))
	assert.False(t, m.LastSuccessAt.IsZero())
	assert.False(t, w.Health().Active, "worker marks itself inactive when the loop exits")
}

func TestWorkerLoopKeepsRunningAfterErrors(t *testing.T) {
	var cycles atomic.Int64
	w := newWorker("flaky", 200, func(ctx context.Context) error {
		cycles.Add(1)
		return errors.New("boom")
	}, zap.NewNop())
	w.recoverySpacing = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.loop(ctx)

	m := w.Metrics()
	require.GreaterOrEqual(t, m.ErrorsEncountered, int64(3),
		"worker must keep cycling after exhausting recovery attempts")
	assert.Zero(t, m.CyclesCompleted)
	assert.InDelta(t, 0.0, w.Health().HealthScore, 1e-9)
}

func TestWorkerLoopRecoversFromPanic(t *testing.T) {
	var calls atomic.Int64
	var recovered atomic.Int64
	w := newWorker("panicky", 200, func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			panic("first cycle explodes")
		}
		return nil
	}, zap.NewNop())
	w.recover = func() { recovered.Add(1) }
	w.recoverySpacing = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.loop(ctx)

	m := w.Metrics()
	assert.Equal(t, int64(1), m.ErrorsEncountered)
	assert.GreaterOrEqual(t, m.CyclesCompleted, int64(1))
	assert.Equal(t, int64(1), recovered.Load())
}

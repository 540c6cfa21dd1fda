package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

func testDeps(t *testing.T) Dependencies {
	t.Helper()
	store := pattern.NewStore()
	detector, err := pattern.NewDetector(store, pattern.NewHeuristicAnalyzer(), zap.NewNop())
	require.NoError(t, err)
	lifecycle, err := pattern.NewLifecycleManager(store, pattern.DefaultLifecycleConfig(), zap.NewNop())
	require.NoError(t, err)
	correlator, err := pattern.NewCorrelator(store, zap.NewNop())
	require.NoError(t, err)
	return Dependencies{
		Store:      store,
		Detector:   detector,
		Lifecycle:  lifecycle,
		Correlator: correlator,
	}
}

func newTestOrchestrator(t *testing.T, cfg Config, deps Dependencies) *Orchestrator {
	t.Helper()
	o, err := New(cfg, deps, zap.NewNop())
	require.NoError(t, err)
	return o
}

// queueSource hands out its observations once.
type queueSource struct {
	mu  sync.Mutex
	obs []Observation
}

func (q *queueSource) Observe(ctx context.Context) ([]Observation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.obs
	q.obs = nil
	return out, nil
}

func TestNew(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		deps := testDeps(t)
		deps.Store = nil
		_, err := New(DefaultConfig(), deps, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store cannot be nil")
	})

	t.Run("requires logger", func(t *testing.T) {
		_, err := New(DefaultConfig(), testDeps(t), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger cannot be nil")
	})

	t.Run("rejects unknown workers", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Frequencies = map[string]float64{"mystery": 10}
		_, err := New(cfg, testDeps(t), zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownWorker)
	})

	t.Run("rejects out-of-range frequencies", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Frequencies = map[string]float64{WorkerDetection: 301}
		_, err := New(cfg, testDeps(t), zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFrequencyOutOfRange)
	})

	t.Run("builds the default worker set", func(t *testing.T) {
		o := newTestOrchestrator(t, DefaultConfig(), testDeps(t))
		freqs := o.Frequencies()
		assert.Len(t, freqs, 7)
		assert.InDelta(t, 90, freqs[WorkerDetection], 1e-9)
		assert.InDelta(t, 3, freqs[WorkerCoordination], 1e-9)
	})
}

func TestValidateHz(t *testing.T) {
	assert.NoError(t, ValidateHz(1))
	assert.NoError(t, ValidateHz(300))
	assert.NoError(t, ValidateHz(90.5))
	assert.ErrorIs(t, ValidateHz(0.5), ErrFrequencyOutOfRange)
	assert.ErrorIs(t, ValidateHz(0), ErrFrequencyOutOfRange)
	assert.ErrorIs(t, ValidateHz(300.1), ErrFrequencyOutOfRange)
}

func TestModeMultiplier(t *testing.T) {
	tests := []struct {
		mode Mode
		want float64
	}{
		{ModeContinuous, 1.0},
		{ModeDeep, 0.5},
		{ModeBroad, 1.5},
	}
	for _, tt := range tests {
		got, err := tt.mode.Multiplier()
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, 1e-9)
	}

	_, err := Mode("frantic").Multiplier()
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestSetMode(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), testDeps(t))

	require.NoError(t, o.SetMode(ModeDeep))
	assert.Equal(t, ModeDeep, o.Mode())

	freqs := o.Frequencies()
	assert.InDelta(t, 45, freqs[WorkerDetection], 1e-9)
	assert.InDelta(t, 15, freqs[WorkerInsight], 1e-9)
	assert.InDelta(t, 7.5, freqs[WorkerIntegration], 1e-9)
	assert.InDelta(t, 5, freqs[WorkerSynthesis], 1e-9)
	assert.InDelta(t, 2.5, freqs[WorkerCorrelation], 1e-9)
	assert.InDelta(t, 1.5, freqs[WorkerCoordination], 1e-9)

	// the multiplier applies to the configured base, never compounds
	require.NoError(t, o.SetMode(ModeDeep))
	assert.InDelta(t, 45, o.Frequencies()[WorkerDetection], 1e-9)

	require.NoError(t, o.SetMode(ModeBroad))
	assert.InDelta(t, 135, o.Frequencies()[WorkerDetection], 1e-9)

	require.NoError(t, o.SetMode(ModeContinuous))
	assert.InDelta(t, 90, o.Frequencies()[WorkerDetection], 1e-9)

	assert.Error(t, o.SetMode(Mode("frantic")))
}

func TestSetFrequency(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), testDeps(t))

	require.NoError(t, o.SetFrequency(WorkerDetection, 120))
	assert.InDelta(t, 120, o.Frequencies()[WorkerDetection], 1e-9)

	// mode scaling applies on top of the new base
	require.NoError(t, o.SetMode(ModeDeep))
	assert.InDelta(t, 60, o.Frequencies()[WorkerDetection], 1e-9)

	assert.ErrorIs(t, o.SetFrequency(WorkerDetection, 0.5), ErrFrequencyOutOfRange)
	assert.ErrorIs(t, o.SetFrequency(WorkerDetection, 500), ErrFrequencyOutOfRange)
	assert.ErrorIs(t, o.SetFrequency("mystery", 10), ErrUnknownWorker)
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	deps := testDeps(t)
	deps.Collaborators = map[string]Collaborator{
		WorkerInsight:     NewStubCollaborator("insight"),
		WorkerIntegration: NewStubCollaborator("integration"),
		WorkerSynthesis:   NewStubCollaborator("synthesis"),
	}
	o := newTestOrchestrator(t, cfg, deps)

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	assert.True(t, o.Active())
	assert.ErrorIs(t, o.Start(ctx), ErrAlreadyRunning)

	time.Sleep(300 * time.Millisecond)

	st := o.GetStatus()
	assert.True(t, st.Active)
	assert.Equal(t, ModeContinuous, st.Mode)
	require.Len(t, st.Workers, 7)
	assert.Greater(t, st.Workers[WorkerDetection].Metrics.CyclesCompleted, int64(0))
	assert.Greater(t, st.Workers[WorkerCoordination].Metrics.CyclesCompleted, int64(0))

	require.NoError(t, o.Stop())
	assert.False(t, o.Active())
	assert.ErrorIs(t, o.Stop(), ErrNotRunning)
}

func TestStopDrainsAfterEmergencyShutdown(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), testDeps(t))

	require.NoError(t, o.Start(context.Background()))
	o.emergencyShutdown("worker detection loop panicked: test")
	assert.False(t, o.Active())

	// Stop still waits for the worker goroutines even though the
	// emergency path already cancelled them and marked us inactive.
	require.NoError(t, o.Stop())
	for _, name := range o.order {
		assert.False(t, o.workers[name].Health().Active, name)
	}
	assert.ErrorIs(t, o.Stop(), ErrNotRunning)
}

func TestDetectionCycleDrainsSources(t *testing.T) {
	deps := testDeps(t)
	src := &queueSource{obs: []Observation{
		{
			Payload:  map[string]any{"clarity": 0.8, "depth": 0.7},
			Category: pattern.CategoryWisdom,
			Sources:  []string{"alpha"},
		},
		{
			Payload:  map[string]any{"clarity": 0.8, "depth": 0.7},
			Category: pattern.CategoryWisdom,
			Sources:  []string{"beta"},
		},
	}}
	deps.Sources = []ObservationSource{src}
	o := newTestOrchestrator(t, DefaultConfig(), deps)

	require.NoError(t, o.detectionCycle(context.Background()))

	require.Equal(t, 1, deps.Store.Len(), "similar observations must merge")
	patterns := deps.Store.List()
	require.Len(t, patterns, 1)
	assert.Equal(t, 2, patterns[0].Frequency)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, patterns[0].Sources)

	// drained source yields nothing further
	require.NoError(t, o.detectionCycle(context.Background()))
	assert.Equal(t, 1, deps.Store.Len())
}

func TestSuperviseCycleTriggersRealignment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RealignmentHold = 20 * time.Millisecond
	o := newTestOrchestrator(t, cfg, testDeps(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.mu.Lock()
	o.baseCtx = ctx
	o.mu.Unlock()

	// tank every worker's health and efficiency
	for _, w := range o.workers {
		w.state.mu.Lock()
		w.state.healthVal = 0.1
		w.state.efficiency = 0.1
		w.state.lastUpdateAt = time.Now().Add(-10 * time.Second)
		w.state.mu.Unlock()
	}

	require.NoError(t, o.superviseCycle(ctx))

	// realignment runs off-cycle; wait for the slowdown to apply
	require.Eventually(t, func() bool {
		return o.Frequencies()[WorkerDetection] < 90*0.9
	}, time.Second, 5*time.Millisecond, "frequencies should be scaled down during realignment")

	// and for the hold to expire and scales to restore
	require.Eventually(t, func() bool {
		o.workers[WorkerDetection].state.mu.Lock()
		restored := o.workers[WorkerDetection].state.realignScale == 1.0
		o.workers[WorkerDetection].state.mu.Unlock()
		return restored
	}, time.Second, 5*time.Millisecond, "realignment scale should restore after the hold")

	assert.Equal(t, int64(1), o.realignments.Load())
}

func TestSuperviseCycleHealthyNoRealignment(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), testDeps(t))

	ctx := context.Background()
	o.mu.Lock()
	o.baseCtx = ctx
	o.mu.Unlock()

	for _, w := range o.workers {
		w.state.mu.Lock()
		w.state.lastUpdateAt = time.Now()
		w.state.mu.Unlock()
	}

	require.NoError(t, o.superviseCycle(ctx))
	assert.Equal(t, int64(0), o.realignments.Load())
}

func TestConfigValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, DefaultConfig().Validate())
	})

	t.Run("bad mode", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Mode = Mode("frantic")
		assert.ErrorIs(t, cfg.Validate(), ErrUnknownMode)
	})

	t.Run("bad realignment scale", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RealignmentScale = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative recovery attempts", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxRecoveryAttempts = -1
		assert.Error(t, cfg.Validate())
	})
}

func TestStubCollaborator(t *testing.T) {
	ctx := context.Background()
	c := NewStubCollaborator("insight")

	_, err := c.GetStatus(ctx)
	require.Error(t, err, "polling before initialization must fail")

	require.NoError(t, c.Initialize(ctx))
	status, err := c.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "insight", status["name"])

	require.NoError(t, c.Reset(ctx))
	require.NoError(t, c.Restart(ctx))

	status, err = c.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status["resets"])
	assert.Equal(t, int64(1), status["restarts"])
}

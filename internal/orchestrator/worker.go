package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RunFunc is one worker cycle body. It must respect ctx cancellation and
// return promptly; the loop enforces a soft per-cycle deadline.
type RunFunc func(ctx context.Context) error

// RecoverFunc is invoked on each bounded recovery attempt after a cycle
// error. Optional.
type RecoverFunc func()

// Metrics is a snapshot of one worker's cycle counters.
type Metrics struct {
	CyclesCompleted   int64         `json:"cycles_completed"`
	AvgCycleTime      time.Duration `json:"avg_cycle_time"`
	ErrorsEncountered int64         `json:"errors_encountered"`
	LastSuccessAt     time.Time     `json:"last_success_at"`
	EfficiencyScore   float64       `json:"efficiency_score"`
}

// Health is a snapshot of one worker's health state.
type Health struct {
	Active       bool      `json:"active"`
	HealthScore  float64   `json:"health_score"`
	LastUpdateAt time.Time `json:"last_update_at"`
}

// Worker is one independently scheduled periodic task. Its effective
// frequency is the configured target scaled by the mode multiplier, the
// persistent adaptive multiplier, and the transient realignment scale.
type Worker struct {
	name    string
	run     RunFunc
	recover RecoverFunc
	logger  *zap.Logger

	maxRecoveryAttempts int
	recoverySpacing     time.Duration

	// state below is guarded by the orchestrator's per-worker lock
	// discipline: all mutation goes through the methods on Worker.
	state workerState
}

// Name returns the worker's name.
func (w *Worker) Name() string { return w.name }

func newWorker(name string, targetHz float64, run RunFunc, logger *zap.Logger) *Worker {
	w := &Worker{
		name:                name,
		run:                 run,
		logger:              logger.Named(name),
		maxRecoveryAttempts: defaultMaxRecoveryAttempts,
		recoverySpacing:     defaultRecoverySpacing,
	}
	w.state.init(targetHz)
	return w
}

// loop runs cycles on a monotonic next-tick schedule until ctx is
// cancelled. Scheduling tracks the next tick (nextTick += period) instead
// of re-deriving sleep from per-cycle elapsed time, so sustained load does
// not accumulate frequency drift.
func (w *Worker) loop(ctx context.Context) {
	w.state.setActive(true)
	defer w.state.setActive(false)

	next := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}

		period := w.state.period()
		start := time.Now()
		err := w.runCycle(ctx, period)
		elapsed := time.Since(start)

		if err != nil {
			w.handleError(ctx, err)
		} else {
			w.state.recordSuccess(elapsed, period)
			observeCycle(ctx, w.name, elapsed, w.state.healthScore())
		}

		next = next.Add(period)
		sleep := time.Until(next)
		if sleep < 0 {
			// Overran one or more ticks; resynchronize rather than
			// bursting to catch up.
			next = time.Now()
			sleep = 0
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runCycle executes the body under a soft deadline of 90% of the period,
// converting panics into errors so one bad cycle never kills the loop.
func (w *Worker) runCycle(ctx context.Context, period time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()

	soft := time.Duration(float64(period) * 0.9)
	if soft <= 0 {
		soft = period
	}
	cctx, cancel := context.WithTimeout(ctx, soft)
	defer cancel()
	return w.run(cctx)
}

// handleError logs, counts, and degrades health, then makes a bounded
// recovery attempt. After the attempt limit is exhausted the worker keeps
// cycling at degraded health instead of terminating.
func (w *Worker) handleError(ctx context.Context, err error) {
	attempts := w.state.recordError()
	observeError(ctx, w.name)

	w.logger.Warn("worker cycle error",
		zap.Error(err),
		zap.Int("recovery_attempts", attempts),
	)

	if attempts > w.maxRecoveryAttempts {
		return
	}

	w.logger.Info("attempting worker recovery",
		zap.Int("attempt", attempts),
		zap.Int("max", w.maxRecoveryAttempts),
	)

	timer := time.NewTimer(w.recoverySpacing)
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}

	if w.recover != nil {
		w.recover()
	}
}

// Metrics returns a snapshot of the worker's cycle counters.
func (w *Worker) Metrics() Metrics { return w.state.metricsSnapshot() }

// Health returns a snapshot of the worker's health state.
func (w *Worker) Health() Health { return w.state.healthSnapshot() }

// EffectiveHz returns the frequency currently being scheduled.
func (w *Worker) EffectiveHz() float64 { return w.state.effectiveHz() }

// TargetHz returns the configured base frequency before multipliers.
func (w *Worker) TargetHz() float64 { return w.state.targetHz() }

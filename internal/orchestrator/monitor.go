package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// superviseCycle is the coordination worker's body. It refreshes every
// worker's health score, steps the adaptive frequency multipliers, kicks
// off realignment when aggregate health drops below the threshold, and
// pushes the store's stage distribution into the metrics registry.
func (o *Orchestrator) superviseCycle(ctx context.Context) error {
	now := time.Now()

	var sum float64
	for _, name := range o.order {
		w := o.workers[name]
		score := w.state.updateHealth(now)
		w.state.adjustAdaptive()
		recordHealth(ctx, name, score)
		sum += score
	}
	aggregate := sum / float64(len(o.order))

	if aggregate < o.cfg.RealignmentThreshold && !o.realigning.Load() {
		o.mu.Lock()
		base := o.baseCtx
		o.mu.Unlock()
		if base != nil {
			go o.realign(base, aggregate)
		}
	}

	pattern.UpdateStageMetrics(pattern.Status(o.store, o.detector, o.lifecycle))
	return nil
}

// realign slows every worker by the configured scale, resets the
// collaborators, holds for the recovery window, then restores full speed.
// It runs off the coordination cycle so the hold does not blow the
// coordination worker's own period.
func (o *Orchestrator) realign(ctx context.Context, aggregate float64) {
	if !o.realigning.CompareAndSwap(false, true) {
		return
	}
	defer o.realigning.Store(false)
	o.realignments.Add(1)

	o.logger.Warn("aggregate health degraded, realigning",
		zap.Float64("aggregate_health", aggregate),
		zap.Float64("scale", o.cfg.RealignmentScale),
	)

	for _, w := range o.workers {
		w.state.setRealignScale(o.cfg.RealignmentScale)
	}
	for name, c := range o.collaborators {
		rctx, cancel := context.WithTimeout(ctx, o.cfg.CollaboratorTimeout)
		if err := c.Reset(rctx); err != nil {
			o.logger.Warn("collaborator reset failed",
				zap.String("collaborator", name),
				zap.Error(err),
			)
		}
		cancel()
	}

	timer := time.NewTimer(o.cfg.RealignmentHold)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
	}

	for _, w := range o.workers {
		w.state.setRealignScale(1.0)
	}
	o.logger.Info("realignment complete, frequencies restored")
}

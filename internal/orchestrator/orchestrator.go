// Package orchestrator schedules the recognition pipeline as a set of
// independent periodic workers, each running at its own frequency, with
// health monitoring, adaptive frequency scaling, and bounded recovery.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// Processing modes. The mode multiplier scales every worker's configured
// frequency; it is applied against the configured base, so switching modes
// back and forth never compounds.
type Mode string

const (
	ModeContinuous Mode = "continuous"
	ModeDeep       Mode = "deep"
	ModeBroad      Mode = "broad"
)

// Multiplier returns the frequency scale for the mode.
func (m Mode) Multiplier() (float64, error) {
	switch m {
	case ModeContinuous:
		return 1.0, nil
	case ModeDeep:
		return 0.5, nil
	case ModeBroad:
		return 1.5, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, m)
	}
}

// Worker names in the default set.
const (
	WorkerDetection    = "detection"
	WorkerInsight      = "insight"
	WorkerIntegration  = "integration"
	WorkerLifecycle    = "lifecycle"
	WorkerSynthesis    = "synthesis"
	WorkerCorrelation  = "correlation"
	WorkerCoordination = "coordination"
)

const (
	minTargetHz = 1.0
	maxTargetHz = 300.0

	baselineHold = 5 * time.Second
)

var (
	ErrAlreadyRunning      = errors.New("orchestrator already running")
	ErrNotRunning          = errors.New("orchestrator not running")
	ErrUnknownWorker       = errors.New("unknown worker")
	ErrUnknownMode         = errors.New("unknown processing mode")
	ErrFrequencyOutOfRange = errors.New("target frequency out of range")
)

// ValidateHz rejects target frequencies outside [1, 300] Hz.
func ValidateHz(hz float64) error {
	if hz < minTargetHz || hz > maxTargetHz {
		return fmt.Errorf("%w: %.2f (want %.0f-%.0f)", ErrFrequencyOutOfRange, hz, minTargetHz, maxTargetHz)
	}
	return nil
}

// DefaultFrequencies returns the default per-worker target frequencies in
// Hz.
func DefaultFrequencies() map[string]float64 {
	return map[string]float64{
		WorkerDetection:    90,
		WorkerInsight:      30,
		WorkerIntegration:  15,
		WorkerLifecycle:    15,
		WorkerSynthesis:    10,
		WorkerCorrelation:  5,
		WorkerCoordination: 3,
	}
}

// Config controls scheduling, recovery, and realignment behavior.
type Config struct {
	Mode        Mode               `koanf:"mode"`
	Frequencies map[string]float64 `koanf:"frequencies"`

	MaxRecoveryAttempts int           `koanf:"max_recovery_attempts"`
	RecoverySpacing     time.Duration `koanf:"recovery_spacing"`
	CollaboratorTimeout time.Duration `koanf:"collaborator_timeout"`

	RealignmentThreshold float64       `koanf:"realignment_threshold"`
	RealignmentScale     float64       `koanf:"realignment_scale"`
	RealignmentHold      time.Duration `koanf:"realignment_hold"`
}

// DefaultConfig returns the stock orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Mode:                 ModeContinuous,
		Frequencies:          DefaultFrequencies(),
		MaxRecoveryAttempts:  defaultMaxRecoveryAttempts,
		RecoverySpacing:      defaultRecoverySpacing,
		CollaboratorTimeout:  500 * time.Millisecond,
		RealignmentThreshold: 0.7,
		RealignmentScale:     0.8,
		RealignmentHold:      2 * time.Second,
	}
}

// Validate checks the configuration for out-of-range values.
func (c Config) Validate() error {
	if _, err := c.Mode.Multiplier(); err != nil {
		return err
	}
	for name, hz := range c.Frequencies {
		if err := ValidateHz(hz); err != nil {
			return fmt.Errorf("worker %s: %w", name, err)
		}
	}
	if c.MaxRecoveryAttempts < 0 {
		return errors.New("max_recovery_attempts cannot be negative")
	}
	if c.RealignmentScale <= 0 || c.RealignmentScale > 1 {
		return errors.New("realignment_scale must be in (0, 1]")
	}
	if c.RealignmentThreshold < 0 || c.RealignmentThreshold > 1 {
		return errors.New("realignment_threshold must be in [0, 1]")
	}
	return nil
}

// Observation is one raw input handed to the detector.
type Observation struct {
	Payload  map[string]any
	Category pattern.Category
	Sources  []string
}

// ObservationSource feeds the detection worker. Observe is called once per
// detection cycle and should return whatever accumulated since the last
// call, or nothing.
type ObservationSource interface {
	Observe(ctx context.Context) ([]Observation, error)
}

// Dependencies are the components the orchestrator drives.
type Dependencies struct {
	Store      *pattern.Store
	Detector   *pattern.Detector
	Lifecycle  *pattern.LifecycleManager
	Correlator *pattern.Correlator

	// Sources feed the detection worker. Optional.
	Sources []ObservationSource
	// Collaborators are polled by the insight, integration, and synthesis
	// workers, keyed by worker name. Optional.
	Collaborators map[string]Collaborator
}

// Orchestrator owns the worker set and its shared supervision state.
type Orchestrator struct {
	cfg    Config
	logger *zap.Logger

	store      *pattern.Store
	detector   *pattern.Detector
	lifecycle  *pattern.LifecycleManager
	correlator *pattern.Correlator

	sources       []ObservationSource
	collaborators map[string]Collaborator

	workers map[string]*Worker
	order   []string

	mu      sync.Mutex
	mode    Mode
	active  bool
	started bool
	cancel  context.CancelFunc
	baseCtx context.Context

	wg           sync.WaitGroup
	realigning   atomic.Bool
	realignments atomic.Int64
	shutdownOnce sync.Once
}

// New builds an orchestrator with the default worker set.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if deps.Detector == nil {
		return nil, errors.New("detector cannot be nil")
	}
	if deps.Lifecycle == nil {
		return nil, errors.New("lifecycle manager cannot be nil")
	}
	if deps.Correlator == nil {
		return nil, errors.New("correlator cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Frequencies == nil {
		cfg.Frequencies = DefaultFrequencies()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeContinuous
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}

	o := &Orchestrator{
		cfg:           cfg,
		logger:        logger,
		store:         deps.Store,
		detector:      deps.Detector,
		lifecycle:     deps.Lifecycle,
		correlator:    deps.Correlator,
		sources:       deps.Sources,
		collaborators: deps.Collaborators,
		workers:       make(map[string]*Worker),
		mode:          cfg.Mode,
	}

	bodies := map[string]RunFunc{
		WorkerDetection:    o.detectionCycle,
		WorkerInsight:      o.pollCycle(WorkerInsight),
		WorkerIntegration:  o.pollCycle(WorkerIntegration),
		WorkerLifecycle:    o.lifecycleCycle,
		WorkerSynthesis:    o.pollCycle(WorkerSynthesis),
		WorkerCorrelation:  o.correlationCycle,
		WorkerCoordination: o.superviseCycle,
	}
	recoveries := map[string]RecoverFunc{
		WorkerDetection: o.recoverDetection,
	}

	modeScale, _ := cfg.Mode.Multiplier()
	for name, hz := range cfg.Frequencies {
		body, ok := bodies[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownWorker, name)
		}
		w := newWorker(name, hz, body, logger)
		w.recover = recoveries[name]
		w.maxRecoveryAttempts = cfg.MaxRecoveryAttempts
		w.recoverySpacing = cfg.RecoverySpacing
		w.state.setModeScale(modeScale)
		o.workers[name] = w
		o.order = append(o.order, name)
	}
	sort.Strings(o.order)

	return o, nil
}

// Start launches every worker loop. It returns once all loops are running;
// Stop (or ctx cancellation) shuts them down.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.baseCtx = runCtx
	o.cancel = cancel
	o.active = true
	o.started = true
	o.mu.Unlock()

	for name, c := range o.collaborators {
		ictx, icancel := context.WithTimeout(runCtx, o.cfg.CollaboratorTimeout)
		if err := c.Initialize(ictx); err != nil {
			o.logger.Warn("collaborator failed to initialize, polling degraded",
				zap.String("collaborator", name),
				zap.Error(err),
			)
		}
		icancel()
	}

	for _, name := range o.order {
		w := o.workers[name]
		o.wg.Add(1)
		go func(w *Worker) {
			defer o.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					o.emergencyShutdown(fmt.Sprintf("worker %s loop panicked: %v", w.name, r))
				}
			}()
			w.loop(runCtx)
		}(w)
	}

	o.logger.Info("orchestrator started",
		zap.Int("workers", len(o.workers)),
		zap.String("mode", string(o.mode)),
	)
	return nil
}

// Stop cancels all worker contexts and waits for the loops to drain. It
// also drains the loops after an emergency shutdown, which cancels but
// cannot wait from inside a worker goroutine.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return ErrNotRunning
	}
	o.started = false
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	o.wg.Wait()

	o.mu.Lock()
	o.active = false
	o.mu.Unlock()

	o.logger.Info("orchestrator stopped")
	return nil
}

// emergencyShutdown is the catastrophic-failure path: cancel everything,
// zero all health, and mark the orchestrator inactive. It never blocks on
// worker drain since it may be called from inside a worker goroutine.
func (o *Orchestrator) emergencyShutdown(reason string) {
	o.shutdownOnce.Do(func() {
		o.logger.Error("emergency shutdown", zap.String("reason", reason))

		o.mu.Lock()
		if o.cancel != nil {
			o.cancel()
		}
		o.active = false
		o.mu.Unlock()

		for _, w := range o.workers {
			w.state.zeroHealth()
		}
	})
}

// Active reports whether the worker set is running.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Mode returns the current processing mode.
func (o *Orchestrator) Mode() Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// SetMode switches the processing mode, rescaling every worker from its
// configured base frequency.
func (o *Orchestrator) SetMode(mode Mode) error {
	scale, err := mode.Multiplier()
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.mode = mode
	o.mu.Unlock()

	for _, w := range o.workers {
		w.state.setModeScale(scale)
	}
	o.logger.Info("processing mode changed",
		zap.String("mode", string(mode)),
		zap.Float64("multiplier", scale),
	)
	return nil
}

// SetFrequency changes one worker's configured base frequency. The change
// takes effect on the worker's next tick.
func (o *Orchestrator) SetFrequency(name string, hz float64) error {
	if err := ValidateHz(hz); err != nil {
		return err
	}
	w, ok := o.workers[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWorker, name)
	}
	w.state.setTargetHz(hz)
	o.logger.Info("worker frequency changed",
		zap.String("worker", name),
		zap.Float64("target_hz", hz),
	)
	return nil
}

// Frequencies returns the effective frequency of every worker after all
// multipliers.
func (o *Orchestrator) Frequencies() map[string]float64 {
	out := make(map[string]float64, len(o.workers))
	for name, w := range o.workers {
		out[name] = w.EffectiveHz()
	}
	return out
}

// Worker returns the named worker, if present.
func (o *Orchestrator) Worker(name string) (*Worker, bool) {
	w, ok := o.workers[name]
	return w, ok
}

// WorkerStatus is one worker's externally visible state.
type WorkerStatus struct {
	TargetHz    float64 `json:"target_hz"`
	EffectiveHz float64 `json:"effective_hz"`
	Health      Health  `json:"health"`
	Metrics     Metrics `json:"metrics"`
}

// Status is a point-in-time snapshot of the orchestrator.
type Status struct {
	Active       bool                    `json:"active"`
	Mode         Mode                    `json:"mode"`
	Realignments int64                   `json:"realignments"`
	Workers      map[string]WorkerStatus `json:"workers"`
}

// GetStatus snapshots the orchestrator and every worker.
func (o *Orchestrator) GetStatus() Status {
	st := Status{
		Active:       o.Active(),
		Mode:         o.Mode(),
		Realignments: o.realignments.Load(),
		Workers:      make(map[string]WorkerStatus, len(o.workers)),
	}
	for name, w := range o.workers {
		st.Workers[name] = WorkerStatus{
			TargetHz:    w.TargetHz(),
			EffectiveHz: w.EffectiveHz(),
			Health:      w.Health(),
			Metrics:     w.Metrics(),
		}
	}
	return st
}

// detectionCycle drains every observation source through the detector.
func (o *Orchestrator) detectionCycle(ctx context.Context) error {
	for _, src := range o.sources {
		obs, err := src.Observe(ctx)
		if err != nil {
			return fmt.Errorf("observe: %w", err)
		}
		for _, ob := range obs {
			id, created, err := o.detector.Recognize(ob.Payload, ob.Category, ob.Sources)
			pattern.RecordRecognition(created, id, err)
			if err != nil {
				return fmt.Errorf("recognize: %w", err)
			}
		}
	}
	return nil
}

// recoverDetection temporarily raises the detection baseline so a flapping
// detector stops admitting marginal patterns while it settles.
func (o *Orchestrator) recoverDetection() {
	o.detector.RaiseBaseline()
	time.AfterFunc(baselineHold, o.detector.RestoreBaseline)
}

// pollCycle builds the cycle body for a collaborator-polling worker.
func (o *Orchestrator) pollCycle(name string) RunFunc {
	return func(ctx context.Context) error {
		c, ok := o.collaborators[name]
		if !ok {
			return nil
		}
		if _, err := pollCollaborator(ctx, c, o.cfg.CollaboratorTimeout); err != nil {
			return fmt.Errorf("poll %s: %w", name, err)
		}
		return nil
	}
}

func (o *Orchestrator) lifecycleCycle(_ context.Context) error {
	o.lifecycle.Sweep(time.Now())
	return nil
}

func (o *Orchestrator) correlationCycle(_ context.Context) error {
	o.correlator.Sweep(time.Now())
	return nil
}

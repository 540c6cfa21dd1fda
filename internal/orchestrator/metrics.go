package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/patternd/internal/orchestrator"

// cycleMetrics holds the OTel instruments for the worker loops. They come
// from the global meter provider, so without an SDK configured every call
// is a no-op.
type cycleMetrics struct {
	cyclesTotal metric.Int64Counter
	cycleDur    metric.Float64Histogram
	errorsTotal metric.Int64Counter
	healthScore metric.Float64Gauge
}

var (
	metricsOnce sync.Once
	instruments cycleMetrics
)

func getInstruments() *cycleMetrics {
	metricsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)

		instruments.cyclesTotal, _ = meter.Int64Counter(
			"patternd.orchestrator.cycles_total",
			metric.WithDescription("Completed worker cycles, labeled by worker name."),
			metric.WithUnit("{cycle}"),
		)
		instruments.cycleDur, _ = meter.Float64Histogram(
			"patternd.orchestrator.cycle_duration_seconds",
			metric.WithDescription("Worker cycle duration in seconds, labeled by worker name."),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
		)
		instruments.errorsTotal, _ = meter.Int64Counter(
			"patternd.orchestrator.cycle_errors_total",
			metric.WithDescription("Worker cycle errors, labeled by worker name."),
			metric.WithUnit("{error}"),
		)
		instruments.healthScore, _ = meter.Float64Gauge(
			"patternd.orchestrator.worker_health",
			metric.WithDescription("Per-worker health score in [0, 1] as of the last coordination pass."),
			metric.WithUnit("1"),
		)
	})
	return &instruments
}

func workerAttr(name string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("worker", name))
}

func observeCycle(ctx context.Context, worker string, elapsed time.Duration, health float64) {
	m := getInstruments()
	if m.cyclesTotal != nil {
		m.cyclesTotal.Add(ctx, 1, workerAttr(worker))
	}
	if m.cycleDur != nil {
		m.cycleDur.Record(ctx, elapsed.Seconds(), workerAttr(worker))
	}
	if m.healthScore != nil {
		m.healthScore.Record(ctx, health, workerAttr(worker))
	}
}

func observeError(ctx context.Context, worker string) {
	m := getInstruments()
	if m.errorsTotal != nil {
		m.errorsTotal.Add(ctx, 1, workerAttr(worker))
	}
}

func recordHealth(ctx context.Context, worker string, score float64) {
	m := getInstruments()
	if m.healthScore != nil {
		m.healthScore.Record(ctx, score, workerAttr(worker))
	}
}

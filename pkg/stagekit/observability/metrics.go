package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records stagekit execution metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordStageExecution records a stage attempt with its duration and
	// error status.
	RecordStageExecution(ctx context.Context, stage string, attempt int, duration time.Duration, err error)

	// RecordRequest records a request run completion.
	RecordRequest(ctx context.Context, success bool, duration time.Duration)

	// RecordSignal records a signal publish with its delivery counts.
	RecordSignal(ctx context.Context, signal string, handled, failed int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	stageExecutions metric.Int64Counter
	stageLatency    metric.Float64Histogram
	stageErrors     metric.Int64Counter
	requestRuns     metric.Int64Counter
	requestLatency  metric.Float64Histogram
	signalPublishes metric.Int64Counter
	signalFailures  metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("stagekit")

	stageExecutions, err := meter.Int64Counter("stagekit.stage.executions",
		metric.WithDescription("Number of stage attempts"),
	)
	if err != nil {
		return nil, err
	}

	stageLatency, err := meter.Float64Histogram("stagekit.stage.latency_ms",
		metric.WithDescription("Stage attempt latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	stageErrors, err := meter.Int64Counter("stagekit.stage.errors",
		metric.WithDescription("Number of failed stage attempts"),
	)
	if err != nil {
		return nil, err
	}

	requestRuns, err := meter.Int64Counter("stagekit.request.runs",
		metric.WithDescription("Number of request runs"),
	)
	if err != nil {
		return nil, err
	}

	requestLatency, err := meter.Float64Histogram("stagekit.request.latency_ms",
		metric.WithDescription("Request latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	signalPublishes, err := meter.Int64Counter("stagekit.signal.publishes",
		metric.WithDescription("Number of signal publishes"),
	)
	if err != nil {
		return nil, err
	}

	signalFailures, err := meter.Int64Counter("stagekit.signal.handler_failures",
		metric.WithDescription("Number of failed signal handler deliveries"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		stageExecutions: stageExecutions,
		stageLatency:    stageLatency,
		stageErrors:     stageErrors,
		requestRuns:     requestRuns,
		requestLatency:  requestLatency,
		signalPublishes: signalPublishes,
		signalFailures:  signalFailures,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider; configure the provider
// before calling this function.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordStageExecution records a stage attempt.
func (m *otelMetrics) RecordStageExecution(ctx context.Context, stage string, attempt int, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("stage", stage),
		attribute.Int("attempt", attempt),
	}

	m.stageExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.stageLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.stageErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordRequest records a request run.
func (m *otelMetrics) RecordRequest(ctx context.Context, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}
	m.requestRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.requestLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordSignal records a signal publish.
func (m *otelMetrics) RecordSignal(ctx context.Context, signal string, handled, failed int) {
	attrs := []attribute.KeyValue{
		attribute.String("signal", signal),
	}
	m.signalPublishes.Add(ctx, 1, metric.WithAttributes(attrs...))
	if failed > 0 {
		m.signalFailures.Add(ctx, int64(failed), metric.WithAttributes(attrs...))
	}
}

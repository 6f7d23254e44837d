package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest installs a manual-reader meter provider as the global
// provider.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(original)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("shutting down meter provider: %v", err)
		}
	}
	return reader, cleanup
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumValue(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 Sum data")
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordStageExecution(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordStageExecution(ctx, "render", 1, 5*time.Millisecond, nil)
	m.RecordStageExecution(ctx, "render", 2, 8*time.Millisecond, errors.New("retryable"))

	rm := collectMetrics(t, reader)

	executions := findMetric(rm, "stagekit.stage.executions")
	require.NotNil(t, executions)
	assert.Equal(t, int64(2), sumValue(t, executions))

	failures := findMetric(rm, "stagekit.stage.errors")
	require.NotNil(t, failures)
	assert.Equal(t, int64(1), sumValue(t, failures))

	latency := findMetric(rm, "stagekit.stage.latency_ms")
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.NotEmpty(t, hist.DataPoints)
}

func TestRecordRequest(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordRequest(ctx, true, 20*time.Millisecond)
	m.RecordRequest(ctx, false, 5*time.Millisecond)

	rm := collectMetrics(t, reader)
	runs := findMetric(rm, "stagekit.request.runs")
	require.NotNil(t, runs)
	assert.Equal(t, int64(2), sumValue(t, runs))
}

func TestRecordSignal(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordSignal(ctx, "request:completed", 3, 0)
	m.RecordSignal(ctx, "request:failed", 1, 2)

	rm := collectMetrics(t, reader)

	publishes := findMetric(rm, "stagekit.signal.publishes")
	require.NotNil(t, publishes)
	assert.Equal(t, int64(2), sumValue(t, publishes))

	failures := findMetric(rm, "stagekit.signal.handler_failures")
	require.NotNil(t, failures)
	assert.Equal(t, int64(2), sumValue(t, failures), "failure count, not publish count")
}

func TestNewMetricsRecorderFallsBackToExisting(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusExporter(t *testing.T) {
	reg := prometheus.NewRegistry()
	exp := NewPrometheusExporter(reg)
	require.NoError(t, exp.Register())
	require.NoError(t, exp.Register(), "re-registering must be a no-op")

	r := NewRecorder(WithExporter(exp))
	r.RecordDuration("pipeline.stage", 60*time.Millisecond, nil) // exceeds 50ms
	r.RecordDuration("pipeline.stage", 10*time.Millisecond, nil)
	r.Record("counts", Sample{})

	assert.Equal(t, float64(2), testutil.ToFloat64(
		exp.samplesTotal.WithLabelValues("pipeline.stage")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		exp.samplesTotal.WithLabelValues("counts")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		exp.exceededTotal.WithLabelValues("pipeline.stage")))

	// Duration-less samples never reach the histogram.
	count := testutil.CollectAndCount(exp.durationSeconds)
	assert.Equal(t, 1, count, "one labeled histogram series expected")
}

func TestPrometheusExporterDoubleRegisterSharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewPrometheusExporter(reg)
	require.NoError(t, a.Register())

	// A second exporter against the same registry tolerates the existing
	// collectors.
	b := NewPrometheusExporter(reg)
	assert.NoError(t, b.Register())
}

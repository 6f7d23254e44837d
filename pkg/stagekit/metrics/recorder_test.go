package metrics

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimers(t *testing.T) {
	r := NewRecorder()

	r.StartTimer("op")
	time.Sleep(5 * time.Millisecond)
	d, ok := r.EndTimer("op")
	require.True(t, ok)
	assert.GreaterOrEqual(t, d, 5*time.Millisecond)

	// Ended timers leave the live set.
	_, ok = r.EndTimer("op")
	assert.False(t, ok)
}

func TestEndTimerUnknown(t *testing.T) {
	r := NewRecorder()
	d, ok := r.EndTimer("never-started")
	assert.False(t, ok)
	assert.Zero(t, d)
}

func TestStartTimerRestarts(t *testing.T) {
	r := NewRecorder()
	r.StartTimer("op")
	time.Sleep(10 * time.Millisecond)
	r.StartTimer("op")
	d, ok := r.EndTimer("op")
	require.True(t, ok)
	assert.Less(t, d, 10*time.Millisecond, "restart must reset the clock")
}

func TestRecordNormalizesSample(t *testing.T) {
	r := NewRecorder()

	s := r.RecordDuration("pipeline.stage", 30*time.Millisecond, map[string]any{"stage": "x"})

	assert.Equal(t, "pipeline.stage", s.Category)
	assert.False(t, s.Timestamp.IsZero())
	assert.Equal(t, DefaultThresholds.PipelineStage, s.Threshold)
	assert.False(t, s.Exceeded, "30ms under the 50ms stage threshold")

	stored := r.Samples("pipeline.stage")
	require.Len(t, stored, 1)
	assert.Equal(t, "x", stored[0].Attrs["stage"])
}

func TestThresholdClassification(t *testing.T) {
	r := NewRecorder()

	tests := []struct {
		category string
		want     time.Duration
	}{
		{"event.publish", DefaultThresholds.EventProcessing},
		{"request.endtoend", DefaultThresholds.EndToEnd},
		{"request.total", DefaultThresholds.EndToEnd},
		{"pipeline.stage", DefaultThresholds.PipelineStage},
		{"stage.render", DefaultThresholds.PipelineStage},
		{"uncategorized", 0},
	}
	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			s := r.RecordDuration(tt.category, time.Millisecond, nil)
			assert.Equal(t, tt.want, s.Threshold)
		})
	}
}

func TestAlertFiresOnExceeded(t *testing.T) {
	var mu sync.Mutex
	var alerts []Sample
	r := NewRecorder(WithAlert(func(s Sample) {
		mu.Lock()
		alerts = append(alerts, s)
		mu.Unlock()
	}))

	r.RecordDuration("pipeline.stage", 40*time.Millisecond, nil) // under
	r.RecordDuration("pipeline.stage", 60*time.Millisecond, nil) // over

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, alerts, 1)
	assert.Equal(t, 60*time.Millisecond, alerts[0].Duration)
	assert.True(t, alerts[0].Exceeded)
}

func TestNoAlertForUnclassifiedCategory(t *testing.T) {
	fired := false
	r := NewRecorder(WithAlert(func(s Sample) { fired = true }))

	r.RecordDuration("custom.thing", time.Hour, nil)
	assert.False(t, fired, "categories without a threshold never alert")
}

func TestCapacityEviction(t *testing.T) {
	r := NewRecorder()

	for i := 0; i < DefaultCapacity+5; i++ {
		r.RecordDuration("pipeline.stage", time.Duration(i)*time.Microsecond, nil)
	}

	samples := r.Samples("pipeline.stage")
	require.Len(t, samples, DefaultCapacity)
	// Oldest five evicted.
	assert.Equal(t, 5*time.Microsecond, samples[0].Duration)
	assert.Equal(t, time.Duration(DefaultCapacity+4)*time.Microsecond, samples[len(samples)-1].Duration)
}

func TestWithCapacity(t *testing.T) {
	r := NewRecorder(WithCapacity(3))
	for i := 0; i < 10; i++ {
		r.RecordDuration("c", time.Duration(i), nil)
	}
	assert.Len(t, r.Samples("c"), 3)
}

func TestCategoriesResetClear(t *testing.T) {
	r := NewRecorder()
	r.RecordDuration("a", time.Millisecond, nil)
	r.RecordDuration("b", time.Millisecond, nil)

	assert.ElementsMatch(t, []string{"a", "b"}, r.Categories())

	r.Reset("a")
	assert.ElementsMatch(t, []string{"b"}, r.Categories())
	assert.Empty(t, r.Samples("a"))

	r.StartTimer("live")
	r.Clear()
	assert.Empty(t, r.Categories())
	_, ok := r.EndTimer("live")
	assert.False(t, ok, "Clear discards live timers")
}

type captureExporter struct {
	mu      sync.Mutex
	samples []Sample
}

func (e *captureExporter) Observe(s Sample) {
	e.mu.Lock()
	e.samples = append(e.samples, s)
	e.mu.Unlock()
}

func TestExporterReceivesSamples(t *testing.T) {
	exp := &captureExporter{}
	r := NewRecorder(WithExporter(exp))

	r.RecordDuration("pipeline.stage", 60*time.Millisecond, nil)
	r.Record("counts", Sample{})

	exp.mu.Lock()
	defer exp.mu.Unlock()
	require.Len(t, exp.samples, 2)
	assert.True(t, exp.samples[0].Exceeded, "exporter sees the normalized sample")
}

func TestConcurrentRecording(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.RecordDuration(fmt.Sprintf("cat.%d", i%2), time.Millisecond, nil)
				r.StartTimer(fmt.Sprintf("t%d-%d", i, j))
				r.EndTimer(fmt.Sprintf("t%d-%d", i, j))
			}
		}(i)
	}
	wg.Wait()

	total := len(r.Samples("cat.0")) + len(r.Samples("cat.1"))
	assert.Equal(t, 800, total)
}

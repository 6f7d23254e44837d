package stagekit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagekit/stagekit/pkg/stagekit/config"
	"github.com/stagekit/stagekit/pkg/stagekit/metrics"
)

func TestFromConfig(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
core:
  max_concurrent_requests: 2
  request_timeout: 100ms
bus:
  history_size: 10
metrics:
  capacity: 50
  thresholds:
    pipeline_stage: 20ms
    memory_limit_mb: 256
`))
	require.NoError(t, err)

	o := New(FromConfig(cfg)...)

	assert.Equal(t, 2, o.maxConcurrent)
	assert.Equal(t, 100*time.Millisecond, o.requestTimeout)

	th := o.Recorder().Thresholds()
	assert.Equal(t, 20*time.Millisecond, th.PipelineStage)
	assert.Equal(t, 256.0, th.MemoryLimitMB)
	// Unlisted thresholds keep their defaults.
	assert.Equal(t, metrics.DefaultThresholds.EventProcessing, th.EventProcessing)
	assert.Equal(t, metrics.DefaultThresholds.EndToEnd, th.EndToEnd)
}

func TestFromConfigEmpty(t *testing.T) {
	o := New(FromConfig(config.New(nil))...)

	assert.Equal(t, DefaultMaxConcurrentRequests, o.maxConcurrent)
	assert.Equal(t, DefaultRequestTimeout, o.requestTimeout)
	assert.Equal(t, metrics.DefaultThresholds, o.Recorder().Thresholds())
}

func TestFromConfigExplicitOptionsWin(t *testing.T) {
	cfg := config.New(map[string]any{
		"core": map[string]any{"max_concurrent_requests": 2},
	})

	opts := append(FromConfig(cfg), WithMaxConcurrentRequests(9))
	o := New(opts...)
	assert.Equal(t, 9, o.maxConcurrent)
}

package stagekit

import (
	"github.com/stagekit/stagekit/pkg/stagekit/bus"
	"github.com/stagekit/stagekit/pkg/stagekit/config"
	"github.com/stagekit/stagekit/pkg/stagekit/metrics"
)

// FromConfig translates a loaded configuration into orchestrator options.
//
// Recognized structure (all sections and keys optional):
//
//	core:
//	  max_concurrent_requests: 5
//	  request_timeout: 30s
//	bus:
//	  history_size: 100
//	metrics:
//	  capacity: 1000
//	  thresholds:
//	    event_processing: 10ms
//	    pipeline_stage: 50ms
//	    end_to_end: 100ms
//	    memory_limit_mb: 100
//
// Options translated from the file come first, so explicit options passed
// alongside them to New override file values.
func FromConfig(cfg config.Config) []Option {
	core := cfg.Section("core")
	opts := []Option{
		WithMaxConcurrentRequests(core.Int("max_concurrent_requests", DefaultMaxConcurrentRequests)),
		WithRequestTimeout(core.Duration("request_timeout", DefaultRequestTimeout)),
	}

	if busCfg := cfg.Section("bus"); busCfg.Has("history_size") {
		opts = append(opts, WithSignalBus(bus.New(
			bus.WithHistorySize(busCfg.Int("history_size", bus.DefaultHistorySize)),
		)))
	}

	if metricsCfg := cfg.Section("metrics"); metricsCfg.Has("capacity") || metricsCfg.Has("thresholds") {
		opts = append(opts, WithMetricsRecorder(metrics.NewRecorder(
			metrics.WithCapacity(metricsCfg.Int("capacity", metrics.DefaultCapacity)),
			metrics.WithThresholds(ThresholdsFromConfig(metricsCfg.Section("thresholds"))),
		)))
	}

	return opts
}

// ThresholdsFromConfig reads metric thresholds, falling back to the
// defaults for absent keys.
func ThresholdsFromConfig(cfg config.Config) metrics.Thresholds {
	return metrics.Thresholds{
		EventProcessing: cfg.Duration("event_processing", metrics.DefaultThresholds.EventProcessing),
		PipelineStage:   cfg.Duration("pipeline_stage", metrics.DefaultThresholds.PipelineStage),
		EndToEnd:        cfg.Duration("end_to_end", metrics.DefaultThresholds.EndToEnd),
		MemoryLimitMB:   cfg.Float("memory_limit_mb", metrics.DefaultThresholds.MemoryLimitMB),
	}
}

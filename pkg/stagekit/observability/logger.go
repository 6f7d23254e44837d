// Package observability provides structured logging, OpenTelemetry metrics,
// and tracing for stagekit.
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// LogRequestStart logs the start of a request run.
func LogRequestStart(logger *slog.Logger, runID, eventID string) {
	if logger == nil {
		return
	}
	logger.Info("request starting",
		slog.String("run_id", runID),
		slog.String("event_id", eventID),
	)
}

// LogRequestComplete logs successful request completion.
func LogRequestComplete(logger *slog.Logger, runID string, durationMs float64, stageCount int) {
	if logger == nil {
		return
	}
	logger.Info("request completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("stages_executed", stageCount),
	)
}

// LogRequestError logs request failure.
func LogRequestError(logger *slog.Logger, runID string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("request failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogStageStart logs stage execution start.
func LogStageStart(logger *slog.Logger, stage string, attempt int) {
	if logger == nil {
		return
	}
	logger.Debug("stage starting",
		slog.String("stage", stage),
		slog.Int("attempt", attempt),
	)
}

// LogStageComplete logs successful stage completion.
func LogStageComplete(logger *slog.Logger, stage string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("stage completed",
		slog.String("stage", stage),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogStageError logs a failed stage attempt.
func LogStageError(logger *slog.Logger, stage string, attempt int, err error) {
	if logger == nil {
		return
	}
	logger.Error("stage failed",
		slog.String("stage", stage),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}

// LogStageRetry logs an upcoming retry and its backoff.
func LogStageRetry(logger *slog.Logger, stage string, attempt int, backoff time.Duration) {
	if logger == nil {
		return
	}
	logger.Warn("stage retrying",
		slog.String("stage", stage),
		slog.Int("attempt", attempt),
		slog.Duration("backoff", backoff),
	)
}

// LogStageSkipped logs an optional stage skipped over unmet dependencies.
func LogStageSkipped(logger *slog.Logger, stage string, missing []string) {
	if logger == nil {
		return
	}
	logger.Warn("optional stage skipped",
		slog.String("stage", stage),
		slog.Any("missing_dependencies", missing),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time.
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}

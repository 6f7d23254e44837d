package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLogger returns a debug-level JSON logger writing into buf.
func captureLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// decodeLines parses each JSON log line in buf.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]any
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}

func TestLogRequestLifecycle(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	LogRequestStart(logger, "run-1", "evt-1")
	LogRequestComplete(logger, "run-1", 12.5, 3)
	LogRequestError(logger, "run-1", errors.New("bad"), 7.0)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)

	assert.Equal(t, "request starting", lines[0]["msg"])
	assert.Equal(t, "run-1", lines[0]["run_id"])
	assert.Equal(t, "evt-1", lines[0]["event_id"])

	assert.Equal(t, "request completed", lines[1]["msg"])
	assert.Equal(t, 12.5, lines[1]["duration_ms"])
	assert.Equal(t, float64(3), lines[1]["stages_executed"])

	assert.Equal(t, "request failed", lines[2]["msg"])
	assert.Equal(t, "ERROR", lines[2]["level"])
	assert.Equal(t, "bad", lines[2]["error"])
}

func TestLogStageLifecycle(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	LogStageStart(logger, "render", 1)
	LogStageComplete(logger, "render", 4.2)
	LogStageError(logger, "render", 1, errors.New("oops"))
	LogStageRetry(logger, "render", 1, 2*time.Second)
	LogStageSkipped(logger, "render", []string{"fetch"})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 5)

	assert.Equal(t, "stage starting", lines[0]["msg"])
	assert.Equal(t, float64(1), lines[0]["attempt"])
	assert.Equal(t, "stage completed", lines[1]["msg"])
	assert.Equal(t, "stage failed", lines[2]["msg"])
	assert.Equal(t, "stage retrying", lines[3]["msg"])
	assert.Equal(t, "optional stage skipped", lines[4]["msg"])
	assert.Equal(t, []any{"fetch"}, lines[4]["missing_dependencies"])
}

func TestLogHelpersNilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		LogRequestStart(nil, "r", "e")
		LogRequestComplete(nil, "r", 0, 0)
		LogRequestError(nil, "r", errors.New("x"), 0)
		LogStageStart(nil, "s", 1)
		LogStageComplete(nil, "s", 0)
		LogStageError(nil, "s", 1, errors.New("x"))
		LogStageRetry(nil, "s", 1, 0)
		LogStageSkipped(nil, "s", nil)
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(10 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), 10*time.Millisecond)
}

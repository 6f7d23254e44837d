package metrics

import (
	"log/slog"
	"runtime"
	"time"
)

// MemorySnapshot is one memory measurement.
type MemorySnapshot struct {
	Label      string
	HeapBytes  uint64
	TotalBytes uint64
	SysBytes   uint64
	DeltaBytes int64
	At         time.Time
}

// MemoryInfo summarizes current memory state for reports.
type MemoryInfo struct {
	CurrentBytes uint64
	TotalBytes   uint64
	LimitMB      float64
	Baseline     *MemorySnapshot
}

// SetMemoryBaseline captures the current heap usage as the baseline for
// later delta calculations.
func (r *Recorder) SetMemoryBaseline() *MemorySnapshot {
	snap := readMemory("baseline")

	r.mu.Lock()
	r.baseline = snap
	r.mu.Unlock()
	return snap
}

// MeasureMemory captures current memory usage under a label, records it as
// a duration-less sample in the memory category, and alerts when heap usage
// passes the configured limit. The delta is computed against the last
// baseline, if any.
func (r *Recorder) MeasureMemory(label string) *MemorySnapshot {
	snap := readMemory(label)

	r.mu.Lock()
	if r.baseline != nil {
		snap.DeltaBytes = int64(snap.HeapBytes) - int64(r.baseline.HeapBytes)
	}
	r.mu.Unlock()

	r.Record(memoryCategory, Sample{
		Timestamp: snap.At,
		Attrs: map[string]any{
			"label":       label,
			"heap_bytes":  snap.HeapBytes,
			"delta_bytes": snap.DeltaBytes,
		},
	})

	heapMB := float64(snap.HeapBytes) / (1024 * 1024)
	if r.thresholds.MemoryLimitMB > 0 && heapMB > r.thresholds.MemoryLimitMB {
		r.logger.Warn("memory usage above limit",
			slog.String("label", label),
			slog.Float64("heap_mb", heapMB),
			slog.Float64("limit_mb", r.thresholds.MemoryLimitMB),
		)
	}
	return snap
}

// MemoryInfo returns the current memory summary for reports.
func (r *Recorder) MemoryInfo() *MemoryInfo {
	snap := readMemory("report")

	r.mu.Lock()
	baseline := r.baseline
	r.mu.Unlock()

	return &MemoryInfo{
		CurrentBytes: snap.HeapBytes,
		TotalBytes:   snap.SysBytes,
		LimitMB:      r.thresholds.MemoryLimitMB,
		Baseline:     baseline,
	}
}

func readMemory(label string) *MemorySnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return &MemorySnapshot{
		Label:      label,
		HeapBytes:  ms.HeapAlloc,
		TotalBytes: ms.TotalAlloc,
		SysBytes:   ms.Sys,
		At:         time.Now(),
	}
}

// Package metrics provides the recorder: lightweight latency/threshold
// telemetry with automatic alerting.
//
// The recorder keeps a bounded ring of samples per category, classifies each
// category to a threshold, and flags samples that exceed it. Statistics use
// rank = floor(count * pct) indexing into the ascending-sorted durations;
// this exact convention is load-bearing for downstream consumers.
package metrics

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity bounds each category's sample ring.
const DefaultCapacity = 1000

// memoryCategory holds memory snapshots; it is excluded from report
// category statistics.
const memoryCategory = "memory"

// Thresholds configures per-class duration limits and the memory cap.
type Thresholds struct {
	EventProcessing time.Duration
	PipelineStage   time.Duration
	EndToEnd        time.Duration
	MemoryLimitMB   float64
}

// DefaultThresholds are the standard limits.
var DefaultThresholds = Thresholds{
	EventProcessing: 10 * time.Millisecond,
	PipelineStage:   50 * time.Millisecond,
	EndToEnd:        100 * time.Millisecond,
	MemoryLimitMB:   100,
}

// Sample is one recorded metric. Duration is meaningful only when
// HasDuration is set; duration-less samples are excluded from statistics.
type Sample struct {
	Category    string
	Duration    time.Duration
	HasDuration bool
	Timestamp   time.Time
	Threshold   time.Duration
	Exceeded    bool
	Attrs       map[string]any
}

// AlertFunc is invoked synchronously when a sample exceeds its threshold.
type AlertFunc func(s Sample)

// Exporter mirrors recorded samples into an external system.
type Exporter interface {
	Observe(s Sample)
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithThresholds overrides the default thresholds.
func WithThresholds(t Thresholds) Option {
	return func(r *Recorder) {
		r.thresholds = t
	}
}

// WithCapacity overrides the per-category sample cap.
func WithCapacity(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithAlert replaces the default log-based threshold alert.
func WithAlert(fn AlertFunc) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.alert = fn
		}
	}
}

// WithLogger sets the logger used by the default alert and timer warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithExporter attaches an exporter receiving every recorded sample.
func WithExporter(e Exporter) Option {
	return func(r *Recorder) {
		r.exporter = e
	}
}

// Recorder records durations and counts per named category. All methods are
// safe for concurrent use.
type Recorder struct {
	mu         sync.Mutex
	thresholds Thresholds
	capacity   int
	categories map[string][]Sample
	timers     map[string]time.Time
	baseline   *MemorySnapshot
	alert      AlertFunc
	exporter   Exporter
	logger     *slog.Logger
}

// NewRecorder creates a recorder with default thresholds and capacity.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		thresholds: DefaultThresholds,
		capacity:   DefaultCapacity,
		categories: make(map[string][]Sample),
		timers:     make(map[string]time.Time),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.alert == nil {
		r.alert = r.logAlert
	}
	return r
}

func (r *Recorder) logAlert(s Sample) {
	r.logger.Warn("metric exceeded threshold",
		slog.String("category", s.Category),
		slog.Duration("duration", s.Duration),
		slog.Duration("threshold", s.Threshold),
	)
}

// StartTimer starts (or restarts) a named timer.
func (r *Recorder) StartTimer(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timers[name] = time.Now()
}

// EndTimer stops a named timer and returns its elapsed time. Ending an
// unknown timer is a no-op: it warns and returns false. The timer leaves
// the live set once ended.
func (r *Recorder) EndTimer(name string) (time.Duration, bool) {
	r.mu.Lock()
	start, ok := r.timers[name]
	if ok {
		delete(r.timers, name)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("ending unknown timer", slog.String("timer", name))
		return 0, false
	}
	return time.Since(start), true
}

// Record normalizes and stores a sample: the timestamp is stamped if unset,
// the category threshold is resolved, and the exceeded flag is derived.
// When the threshold is exceeded the alert fires synchronously. The oldest
// sample is evicted once the category ring is full. Returns the stored
// sample.
func (r *Recorder) Record(category string, s Sample) Sample {
	s.Category = category
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	s.Threshold = r.thresholdFor(category)
	s.Exceeded = s.HasDuration && s.Threshold > 0 && s.Duration > s.Threshold

	r.mu.Lock()
	ring := append(r.categories[category], s)
	if len(ring) > r.capacity {
		ring = ring[len(ring)-r.capacity:]
	}
	r.categories[category] = ring
	exporter := r.exporter
	r.mu.Unlock()

	if s.Exceeded {
		r.alert(s)
	}
	if exporter != nil {
		exporter.Observe(s)
	}
	return s
}

// RecordDuration records a duration sample with optional attributes.
func (r *Recorder) RecordDuration(category string, d time.Duration, attrs map[string]any) Sample {
	return r.Record(category, Sample{
		Duration:    d,
		HasDuration: true,
		Attrs:       attrs,
	})
}

// thresholdFor classifies a category by substring. Categories matching no
// class have no threshold and never alert.
func (r *Recorder) thresholdFor(category string) time.Duration {
	lower := strings.ToLower(category)
	switch {
	case strings.Contains(lower, "event"):
		return r.thresholds.EventProcessing
	case strings.Contains(lower, "endtoend"), strings.Contains(lower, "total"):
		return r.thresholds.EndToEnd
	case strings.Contains(lower, "pipeline"), strings.Contains(lower, "stage"):
		return r.thresholds.PipelineStage
	default:
		return 0
	}
}

// Thresholds returns the active threshold configuration.
func (r *Recorder) Thresholds() Thresholds {
	return r.thresholds
}

// Samples returns a copy of the stored samples for a category, oldest
// first.
func (r *Recorder) Samples(category string) []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()

	ring := r.categories[category]
	out := make([]Sample, len(ring))
	copy(out, ring)
	return out
}

// Categories returns the category names with at least one stored sample.
func (r *Recorder) Categories() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.categories))
	for name := range r.categories {
		names = append(names, name)
	}
	return names
}

// Reset discards the stored samples for one category.
func (r *Recorder) Reset(category string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.categories, category)
}

// Clear discards all samples, live timers, and the memory baseline.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories = make(map[string][]Sample)
	r.timers = make(map[string]time.Time)
	r.baseline = nil
}

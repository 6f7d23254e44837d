package metrics

import (
	"sort"
	"time"
)

// Stats summarizes the duration samples of one category.
type Stats struct {
	Count  int
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	Median time.Duration
	P95    time.Duration
	P99    time.Duration
}

// bottleneckWindow is how many recent samples bottleneck analysis inspects.
const bottleneckWindow = 100

// DefaultBottleneckLimit caps the bottleneck result length.
const DefaultBottleneckLimit = 10

// Bottleneck describes a category whose recent samples exceed a threshold.
type Bottleneck struct {
	Category    string
	Occurrences int
	Percentage  float64
	Stats       *Stats
	WorstCase   time.Duration
}

// BottleneckOption configures bottleneck analysis.
type BottleneckOption func(*bottleneckConfig)

type bottleneckConfig struct {
	threshold time.Duration
	limit     int
}

// WithBottleneckThreshold overrides the pipeline-stage default threshold
// used to count violations.
func WithBottleneckThreshold(d time.Duration) BottleneckOption {
	return func(c *bottleneckConfig) {
		if d > 0 {
			c.threshold = d
		}
	}
}

// WithBottleneckLimit caps the number of returned bottlenecks.
func WithBottleneckLimit(n int) BottleneckOption {
	return func(c *bottleneckConfig) {
		if n > 0 {
			c.limit = n
		}
	}
}

// Statistics computes duration statistics for a category. Samples without a
// duration are excluded. Returns nil when no qualifying samples exist.
//
// Percentiles use rank = floor(count * pct) as a 0-based index into the
// ascending-sorted durations, not interpolation.
func (r *Recorder) Statistics(category string) *Stats {
	r.mu.Lock()
	ring := r.categories[category]
	durations := make([]time.Duration, 0, len(ring))
	for _, s := range ring {
		if s.HasDuration {
			durations = append(durations, s.Duration)
		}
	}
	r.mu.Unlock()

	return computeStats(durations)
}

func computeStats(durations []time.Duration) *Stats {
	if len(durations) == 0 {
		return nil
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	n := len(sorted)
	return &Stats{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   sum / time.Duration(n),
		Median: sorted[rank(n, 0.5)],
		P95:    sorted[rank(n, 0.95)],
		P99:    sorted[rank(n, 0.99)],
	}
}

// rank returns floor(n*pct) clamped to a valid 0-based index.
func rank(n int, pct float64) int {
	idx := int(float64(n) * pct)
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// Bottlenecks inspects the most recent samples of each category (up to 100)
// and reports categories where at least one sample exceeds the threshold:
// either the explicit option or the pipeline-stage default. Results are
// sorted descending by worst case and truncated to the limit (default 10).
func (r *Recorder) Bottlenecks(opts ...BottleneckOption) []Bottleneck {
	cfg := bottleneckConfig{
		threshold: r.thresholds.PipelineStage,
		limit:     DefaultBottleneckLimit,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r.mu.Lock()
	recent := make(map[string][]Sample, len(r.categories))
	for name, ring := range r.categories {
		window := ring
		if len(window) > bottleneckWindow {
			window = window[len(window)-bottleneckWindow:]
		}
		recent[name] = window
	}
	r.mu.Unlock()

	var out []Bottleneck
	for name, window := range recent {
		occurrences := 0
		inspected := 0
		var worst time.Duration
		var durations []time.Duration
		for _, s := range window {
			if !s.HasDuration {
				continue
			}
			inspected++
			durations = append(durations, s.Duration)
			if s.Duration > cfg.threshold {
				occurrences++
				if s.Duration > worst {
					worst = s.Duration
				}
			}
		}
		if occurrences == 0 {
			continue
		}
		out = append(out, Bottleneck{
			Category:    name,
			Occurrences: occurrences,
			Percentage:  float64(occurrences) / float64(inspected) * 100,
			Stats:       computeStats(durations),
			WorstCase:   worst,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].WorstCase > out[j].WorstCase })
	if len(out) > cfg.limit {
		out = out[:cfg.limit]
	}
	return out
}

// Summary aggregates report-level counters.
type Summary struct {
	TotalCategories int
	TotalMetrics    int
	BottleneckCount int
	Thresholds      Thresholds
}

// Report is the full metrics export.
type Report struct {
	Timestamp   time.Time
	Summary     Summary
	Categories  map[string]*Stats
	Bottlenecks []Bottleneck
	Memory      *MemoryInfo
}

// Report aggregates per-category statistics (excluding the memory
// category), current bottlenecks, and memory info.
func (r *Recorder) Report() *Report {
	r.mu.Lock()
	names := make([]string, 0, len(r.categories))
	total := 0
	for name, ring := range r.categories {
		total += len(ring)
		names = append(names, name)
	}
	r.mu.Unlock()

	categories := make(map[string]*Stats)
	for _, name := range names {
		if name == memoryCategory {
			continue
		}
		if stats := r.Statistics(name); stats != nil {
			categories[name] = stats
		}
	}

	bottlenecks := r.Bottlenecks()

	return &Report{
		Timestamp: time.Now(),
		Summary: Summary{
			TotalCategories: len(names),
			TotalMetrics:    total,
			BottleneckCount: len(bottlenecks),
			Thresholds:      r.thresholds,
		},
		Categories:  categories,
		Bottlenecks: bottlenecks,
		Memory:      r.MemoryInfo(),
	}
}

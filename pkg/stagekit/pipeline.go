package stagekit

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/stagekit/stagekit/pkg/stagekit/metrics"
	"github.com/stagekit/stagekit/pkg/stagekit/observability"
	"github.com/stagekit/stagekit/pkg/stagekit/registry"
)

// BackoffFunc returns the wait before retrying after the given failed
// attempt (1-based).
type BackoffFunc func(attempt int) time.Duration

// DefaultBackoff waits attempt seconds, capped at 5s.
func DefaultBackoff(attempt int) time.Duration {
	d := time.Duration(attempt) * time.Second
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

// UnregisterFunc removes the stage it was returned for.
// It reports whether the stage was present, and fails while other stages
// still depend on it.
type UnregisterFunc func() (bool, error)

// Pipeline owns the stage registry, computes a valid execution order, and
// executes events through it.
//
// Registration is deliberately permissive: a stage may depend on a stage
// that is not registered yet. Validation failures are stored and surfaced
// only by ValidateDependencies or Execute, so independent subsystems can
// register stages in any order.
type Pipeline struct {
	mu     sync.Mutex
	stages *registry.Registry[string, *Stage]
	// order is the current execution order, recomputed on every
	// registration change.
	order []string
	// orderErr is the stored validation failure, surfaced lazily.
	orderErr error

	recorder *metrics.Recorder
	logger   *slog.Logger
	obs      observability.MetricsRecorder
	spans    observability.SpanManager
	backoff  BackoffFunc
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRecorder attaches a metrics recorder; stage timings are recorded
// under the pipeline.stage category.
func WithRecorder(r *metrics.Recorder) PipelineOption {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithPipelineLogger sets the pipeline's logger. Defaults to slog.Default().
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObservability sets the OTel metrics recorder for stage executions.
func WithObservability(rec observability.MetricsRecorder) PipelineOption {
	return func(p *Pipeline) {
		if rec != nil {
			p.obs = rec
		}
	}
}

// WithSpanManager enables tracing of stage executions.
func WithSpanManager(spans observability.SpanManager) PipelineOption {
	return func(p *Pipeline) {
		if spans != nil {
			p.spans = spans
		}
	}
}

// WithBackoff overrides the retry backoff schedule.
func WithBackoff(fn BackoffFunc) PipelineOption {
	return func(p *Pipeline) {
		if fn != nil {
			p.backoff = fn
		}
	}
}

// NewPipeline creates an empty pipeline.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		stages:  registry.New[string, *Stage](),
		logger:  slog.Default(),
		obs:     observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		backoff: DefaultBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterStage adds a named stage. It fails fast on a nil handler, an
// empty name, or a duplicate name. Dangling dependencies do NOT fail here;
// they surface from ValidateDependencies or Execute.
//
// The returned capability unregisters the stage.
func (p *Pipeline) RegisterStage(name string, fn StageFunc, opts ...StageOption) (UnregisterFunc, error) {
	if name == "" {
		return nil, fmt.Errorf("register stage: name cannot be empty")
	}
	if fn == nil {
		return nil, fmt.Errorf("register stage %q: %w", name, ErrNilHandler)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stages.Has(name) {
		return nil, fmt.Errorf("register stage %q: %w", name, ErrDuplicateStage)
	}

	s := &Stage{
		Name:       name,
		Priority:   DefaultPriority,
		Timeout:    DefaultStageTimeout,
		MaxRetries: DefaultMaxRetries,
		fn:         fn,
	}
	for _, opt := range opts {
		opt(s)
	}

	p.stages.Register(name, s)
	p.refreshLocked()

	return func() (bool, error) {
		return p.UnregisterStage(name)
	}, nil
}

// UnregisterStage removes a stage. Returns false if the stage is absent and
// an error while any other stage still lists it as a dependency.
func (p *Pipeline) UnregisterStage(name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.stages.Has(name) {
		return false, nil
	}
	for _, other := range p.stages.Values() {
		if other.Name == name {
			continue
		}
		for _, dep := range other.Dependencies {
			if dep == name {
				return false, fmt.Errorf("unregister stage %q: %w: required by %s",
					name, ErrStageInUse, other.Name)
			}
		}
	}

	p.stages.Remove(name)
	p.refreshLocked()
	return true, nil
}

// refreshLocked recomputes the execution order and stores the validation
// outcome without surfacing it. Callers hold p.mu.
func (p *Pipeline) refreshLocked() {
	p.order = p.computeOrderLocked()
	if res := p.validateLocked(); res.Valid {
		p.orderErr = nil
	} else {
		p.orderErr = res.Err
	}
}

// ValidateDependencies checks the registered stages in two phases: every
// referenced dependency must name a registered stage, then a depth-first
// traversal must find no cycle. The first offending stage is reported.
func (p *Pipeline) ValidateDependencies() ValidationResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.validateLocked()
}

func (p *Pipeline) validateLocked() ValidationResult {
	for _, s := range p.stages.Values() {
		for _, dep := range s.Dependencies {
			if !p.stages.Has(dep) {
				return ValidationResult{Err: &DependencyError{Stage: s.Name, Missing: dep}}
			}
		}
	}

	visited := make(map[string]bool)
	onPath := make(map[string]bool)

	var visit func(name string) *CycleError
	visit = func(name string) *CycleError {
		if onPath[name] {
			return &CycleError{Stage: name}
		}
		if visited[name] {
			return nil
		}
		onPath[name] = true
		s, _ := p.stages.Get(name)
		for _, dep := range s.Dependencies {
			if cerr := visit(dep); cerr != nil {
				return cerr
			}
		}
		onPath[name] = false
		visited[name] = true
		return nil
	}

	for _, name := range p.stages.Keys() {
		if cerr := visit(name); cerr != nil {
			return ValidationResult{Err: cerr}
		}
	}
	return ValidationResult{Valid: true}
}

// computeOrderLocked produces the execution order in two passes: a
// dependency-first topological visit in registration order (skipping
// unregistered dependencies so registration stays permissive), then a
// regrouping by priority value descending, preserving each group's
// relative order. Priority is a coarse override on top of dependency
// order; it never violates a dependency edge within a priority group.
func (p *Pipeline) computeOrderLocked() []string {
	visited := make(map[string]bool)
	var linear []string

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		s, ok := p.stages.Get(name)
		if !ok {
			return
		}
		for _, dep := range s.Dependencies {
			visit(dep)
		}
		linear = append(linear, name)
	}

	for _, name := range p.stages.Keys() {
		visit(name)
	}

	groups := make(map[int][]string)
	var priorities []int
	for _, name := range linear {
		s, _ := p.stages.Get(name)
		if _, seen := groups[s.Priority]; !seen {
			priorities = append(priorities, s.Priority)
		}
		groups[s.Priority] = append(groups[s.Priority], name)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(priorities)))

	ordered := make([]string, 0, len(linear))
	for _, prio := range priorities {
		ordered = append(ordered, groups[prio]...)
	}
	return ordered
}

// Order returns the current execution order.
func (p *Pipeline) Order() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Stages returns copies of all registered stages in registration order.
func (p *Pipeline) Stages() []Stage {
	out := make([]Stage, 0, p.stages.Len())
	for _, s := range p.stages.Values() {
		out = append(out, s.clone())
	}
	return out
}

// StageInfo returns a copy of one stage's definition.
func (p *Pipeline) StageInfo(name string) (Stage, bool) {
	s, ok := p.stages.Get(name)
	if !ok {
		return Stage{}, false
	}
	return s.clone(), true
}

// Clear removes every registered stage.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stages.Clear()
	p.order = nil
	p.orderErr = nil
}

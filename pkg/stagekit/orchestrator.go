package stagekit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stagekit/stagekit/pkg/stagekit/bus"
	"github.com/stagekit/stagekit/pkg/stagekit/event"
	"github.com/stagekit/stagekit/pkg/stagekit/metrics"
	"github.com/stagekit/stagekit/pkg/stagekit/observability"
)

// Orchestrator defaults.
const (
	DefaultMaxConcurrentRequests = 5
	DefaultRequestTimeout        = 30 * time.Second
)

// Lifecycle signal names published by the orchestrator.
const (
	SignalRequestQueued     = "request:queued"
	SignalRequestProcessing = "request:processing"
	SignalRequestCompleted  = "request:completed"
	SignalRequestFailed     = "request:failed"
)

// Metric categories recorded by the orchestrator.
const (
	CategoryRequestComplete = "request.complete"
	CategoryRequestFailed   = "request.failed"
)

// Lifecycle is the payload carried by lifecycle signals.
type Lifecycle struct {
	EventID string      `json:"event_id"`
	Phase   event.Phase `json:"phase"`
	Err     string      `json:"error,omitempty"`
}

// Orchestrator coordinates request intake, pipeline execution, lifecycle
// signals, and metrics. It enforces an admission cap: requests past the
// cap are rejected immediately, never queued.
type Orchestrator struct {
	pipeline *Pipeline
	signals  *bus.Bus
	recorder *metrics.Recorder
	logger   *slog.Logger
	obs      observability.MetricsRecorder
	spans    observability.SpanManager
	services map[string]any

	maxConcurrent  int
	requestTimeout time.Duration

	// inflight tracks active requests by event ID.
	mu       sync.Mutex
	inflight map[string]*event.Event
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPipeline sets the pipeline. A fresh one is created if not set.
func WithPipeline(p *Pipeline) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.pipeline = p
		}
	}
}

// WithSignalBus sets the signal bus. A fresh one is created if not set.
func WithSignalBus(b *bus.Bus) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.signals = b
		}
	}
}

// WithMetricsRecorder sets the metrics recorder. A fresh one with default
// thresholds is created if not set.
func WithMetricsRecorder(r *metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithMaxConcurrentRequests sets the admission cap. Values below 1 are
// ignored.
func WithMaxConcurrentRequests(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.maxConcurrent = n
		}
	}
}

// WithRequestTimeout sets the per-request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// WithCoreLogger sets the orchestrator's logger.
func WithCoreLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTelemetry sets the OTel metrics recorder for request and signal
// instrumentation.
func WithTelemetry(rec observability.MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if rec != nil {
			o.obs = rec
		}
	}
}

// WithTracing enables request span creation.
func WithTracing(spans observability.SpanManager) Option {
	return func(o *Orchestrator) {
		if spans != nil {
			o.spans = spans
		}
	}
}

// WithPlatformService exposes a named service to stage handlers through
// their execution context.
func WithPlatformService(name string, service any) Option {
	return func(o *Orchestrator) {
		if o.services == nil {
			o.services = make(map[string]any)
		}
		o.services[name] = service
	}
}

// New creates an orchestrator. Missing components are created with
// defaults so a zero-option orchestrator is fully usable.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:         slog.Default(),
		obs:            observability.NoopMetrics{},
		spans:          observability.NoopSpanManager{},
		maxConcurrent:  DefaultMaxConcurrentRequests,
		requestTimeout: DefaultRequestTimeout,
		inflight:       make(map[string]*event.Event),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.signals == nil {
		o.signals = bus.New(bus.WithLogger(o.logger))
	}
	if o.recorder == nil {
		o.recorder = metrics.NewRecorder(metrics.WithLogger(o.logger))
	}
	// The default pipeline shares the orchestrator's recorder and telemetry
	// so stage durations land in the same place request metrics do.
	if o.pipeline == nil {
		o.pipeline = NewPipeline(
			WithPipelineLogger(o.logger),
			WithRecorder(o.recorder),
			WithObservability(o.obs),
			WithSpanManager(o.spans),
		)
	}
	return o
}

// Pipeline returns the orchestrator's pipeline.
func (o *Orchestrator) Pipeline() *Pipeline { return o.pipeline }

// SignalBus returns the orchestrator's signal bus.
func (o *Orchestrator) SignalBus() *bus.Bus { return o.signals }

// Recorder returns the orchestrator's metrics recorder.
func (o *Orchestrator) Recorder() *metrics.Recorder { return o.recorder }

// admit registers a new event under the admission cap. It returns an
// AdmissionError, and no event is created, when the cap is reached.
func (o *Orchestrator) admit(payload event.Payload) (*event.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.inflight) >= o.maxConcurrent {
		return nil, &AdmissionError{Active: len(o.inflight), Max: o.maxConcurrent}
	}
	evt := event.New(payload)
	o.inflight[evt.ID()] = evt
	return evt, nil
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, id)
}

// ActiveRequests returns the number of requests currently in flight.
func (o *Orchestrator) ActiveRequests() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}

type processResult struct {
	evt *event.Event
	err error
}

// Process runs one request through the pipeline.
//
// The request is admitted against the concurrency cap before any event
// exists; a rejected request produces no event and no signals. An admitted
// request walks the lifecycle: queued, processing, then completed or
// failed, with a signal published at each step. The whole run races the
// request timeout; on expiry the orchestrator stops waiting and fails the
// event with ErrRequestTimeout while the pipeline goroutine winds down on
// its own.
//
// The returned event is always non-nil for admitted requests, in a
// terminal phase.
func (o *Orchestrator) Process(ctx context.Context, payload event.Payload) (*event.Event, error) {
	evt, err := o.admit(payload)
	if err != nil {
		return nil, err
	}
	defer o.release(evt.ID())

	o.transition(ctx, evt, event.PhaseQueued, SignalRequestQueued, nil)
	o.transition(ctx, evt, event.PhaseProcessing, SignalRequestProcessing, nil)

	ec := o.newRunContext(ctx)
	spanCtx, span := o.spans.StartRequestSpan(ec, ec.RunID(), evt.ID())

	observability.LogRequestStart(o.logger, ec.RunID(), evt.ID())
	timerName := "request:" + evt.ID()
	o.recorder.StartTimer(timerName)

	result := make(chan processResult, 1)
	go func() {
		out, runErr := o.pipeline.Execute(ec, evt)
		result <- processResult{evt: out, err: runErr}
	}()

	timer := time.NewTimer(o.requestTimeout)
	defer timer.Stop()

	var runErr error
	select {
	case res := <-result:
		runErr = res.err
		if res.evt != nil {
			evt = res.evt
			alignReplacement(evt)
		}
	case <-timer.C:
		runErr = fmt.Errorf("%w after %s", ErrRequestTimeout, o.requestTimeout)
	}

	elapsed, _ := o.recorder.EndTimer(timerName)
	ms := float64(elapsed) / float64(time.Millisecond)

	if runErr != nil {
		evt.SetError(runErr)
		o.recorder.RecordDuration(CategoryRequestFailed, elapsed, map[string]any{
			"event_id": evt.ID(),
			"error":    runErr.Error(),
		})
		o.obs.RecordRequest(spanCtx, false, elapsed)
		o.spans.EndSpanWithError(span, runErr)
		observability.LogRequestError(o.logger, ec.RunID(), runErr, ms)
		o.transition(ctx, evt, "", SignalRequestFailed, runErr)
		return evt, runErr
	}

	o.recorder.RecordDuration(CategoryRequestComplete, elapsed, map[string]any{
		"event_id": evt.ID(),
	})
	o.obs.RecordRequest(spanCtx, true, elapsed)
	o.spans.EndSpanWithError(span, nil)
	observability.LogRequestComplete(o.logger, ec.RunID(), ms, len(evt.StageNames()))
	o.transition(ctx, evt, event.PhaseCompleted, SignalRequestCompleted, nil)
	return evt, nil
}

// alignReplacement advances a replacement event to the processing phase so
// the terminal transition is legal. A handler may return a brand-new event
// that never walked the queued and processing steps the original did.
func alignReplacement(evt *event.Event) {
	switch evt.Phase() {
	case event.PhaseCreated, event.PhaseQueued:
		evt.SetPhase(event.PhaseProcessing)
	}
}

// newRunContext builds the execution context handed to stage handlers.
func (o *Orchestrator) newRunContext(ctx context.Context) Context {
	opts := []ContextOption{
		WithLogger(o.logger),
		WithBus(o.signals),
		WithMetrics(o.recorder),
		WithCore(o),
	}
	for name, svc := range o.services {
		opts = append(opts, WithService(name, svc))
	}
	return NewContext(ctx, opts...)
}

// transition advances the event phase (when one is given) and publishes
// the matching lifecycle signal.
func (o *Orchestrator) transition(ctx context.Context, evt *event.Event, phase event.Phase, signal string, failure error) {
	if phase != "" {
		if err := evt.SetPhase(phase); err != nil {
			o.logger.Warn("phase transition rejected",
				slog.String("event_id", evt.ID()),
				slog.String("phase", string(phase)),
				slog.Any("error", err))
		}
	}
	note := Lifecycle{EventID: evt.ID(), Phase: evt.Phase()}
	if failure != nil {
		note.Err = failure.Error()
	}
	res := o.signals.Publish(ctx, signal, note)
	o.obs.RecordSignal(ctx, signal, res.Handled, res.Failed)
}

// CoreHealth describes the orchestrator's own state.
type CoreHealth struct {
	Initialized    bool `json:"initialized"`
	ActiveRequests int  `json:"active_requests"`
	MaxRequests    int  `json:"max_requests"`
}

// PipelineHealth describes the pipeline component.
type PipelineHealth struct {
	Stages int    `json:"stages"`
	Valid  bool   `json:"valid"`
	Err    string `json:"error,omitempty"`
}

// BusHealth describes the signal bus component.
type BusHealth struct {
	Subscribers int `json:"subscribers"`
	Signals     int `json:"signals"`
}

// HealthReport is a point-in-time snapshot of every component.
type HealthReport struct {
	Timestamp time.Time       `json:"timestamp"`
	Status    string          `json:"status"`
	Core      CoreHealth      `json:"core"`
	Pipeline  PipelineHealth  `json:"pipeline"`
	Bus       BusHealth       `json:"bus"`
	Metrics   metrics.Summary `json:"metrics"`
}

// Health reports the orchestrator's status. Status is "degraded" when the
// stage graph fails validation, otherwise "healthy".
func (o *Orchestrator) Health() HealthReport {
	validation := o.pipeline.ValidateDependencies()

	report := HealthReport{
		Timestamp: time.Now(),
		Status:    "healthy",
		Core: CoreHealth{
			Initialized:    true,
			ActiveRequests: o.ActiveRequests(),
			MaxRequests:    o.maxConcurrent,
		},
		Pipeline: PipelineHealth{
			Stages: len(o.pipeline.Stages()),
			Valid:  validation.Valid,
		},
		Bus: BusHealth{
			Subscribers: o.signals.SubscriberCount(),
			Signals:     len(o.signals.SignalNames()),
		},
		Metrics: o.recorder.Report().Summary,
	}
	if !validation.Valid {
		report.Status = "degraded"
		report.Pipeline.Err = validation.Err.Error()
	}
	return report
}

// Shutdown clears the pipeline, the bus, and the in-flight table. It does
// not wait for running requests; their results are discarded.
func (o *Orchestrator) Shutdown() {
	o.pipeline.Clear()
	o.signals.Clear()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight = make(map[string]*event.Event)
}

package stagekit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stagekit/stagekit/pkg/stagekit/bus"
	"github.com/stagekit/stagekit/pkg/stagekit/metrics"
)

// Context provides execution context to stage handlers.
// It extends context.Context with the services named in the handler
// contract plus per-run metadata.
//
// Context is immutable after creation. The executor derives a context per
// stage with the stage name set and the logger enriched.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with run and stage
	// context. Never returns nil.
	Logger() *slog.Logger

	// Bus returns the signal bus, or nil if not configured.
	Bus() *bus.Bus

	// Metrics returns the metrics recorder, or nil if not configured.
	Metrics() *metrics.Recorder

	// Core returns the originating orchestrator, or nil when the pipeline
	// runs standalone.
	Core() *Orchestrator

	// Service returns a named platform service handle, or nil.
	Service(name string) any

	// RunID returns the unique identifier for this run.
	RunID() string

	// Stage returns the stage currently executing, or "" outside a stage.
	Stage() string

	// Completed returns the stages completed so far in this run, in
	// execution order.
	Completed() []string

	// Failed returns the optional stages that terminally failed so far.
	Failed() []string

	// StartedAt returns when the run began.
	StartedAt() time.Time
}

// runState is shared by every stage context of one run.
type runState struct {
	completed []string
	failed    []string
	startedAt time.Time
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger   *slog.Logger
	signals  *bus.Bus
	recorder *metrics.Recorder
	core     *Orchestrator
	services map[string]any
	runID    string
	stage    string
	run      *runState
}

func (c *executionContext) Logger() *slog.Logger       { return c.logger }
func (c *executionContext) Bus() *bus.Bus              { return c.signals }
func (c *executionContext) Metrics() *metrics.Recorder { return c.recorder }
func (c *executionContext) Core() *Orchestrator        { return c.core }
func (c *executionContext) RunID() string              { return c.runID }
func (c *executionContext) Stage() string              { return c.stage }
func (c *executionContext) StartedAt() time.Time       { return c.run.startedAt }

// Service returns a named platform service handle.
func (c *executionContext) Service(name string) any {
	return c.services[name]
}

// Completed returns a copy of the completed-stage list.
func (c *executionContext) Completed() []string {
	out := make([]string, len(c.run.completed))
	copy(out, c.run.completed)
	return out
}

// Failed returns a copy of the failed-stage list.
func (c *executionContext) Failed() []string {
	out := make([]string, len(c.run.failed))
	copy(out, c.run.failed)
	return out
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context. It is enriched with run_id
// and stage during execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBus sets the signal bus for the context.
func WithBus(b *bus.Bus) ContextOption {
	return func(c *executionContext) {
		c.signals = b
	}
}

// WithMetrics sets the metrics recorder for the context.
func WithMetrics(r *metrics.Recorder) ContextOption {
	return func(c *executionContext) {
		c.recorder = r
	}
}

// WithCore sets the originating orchestrator.
func WithCore(o *Orchestrator) ContextOption {
	return func(c *executionContext) {
		c.core = o
	}
}

// WithService registers a named platform service handle.
func WithService(name string, service any) ContextOption {
	return func(c *executionContext) {
		if c.services == nil {
			c.services = make(map[string]any)
		}
		c.services[name] = service
	}
}

// WithRunID sets the run identifier. Auto-generated if not set.
func WithRunID(id string) ContextOption {
	return func(c *executionContext) {
		if id != "" {
			c.runID = id
		}
	}
}

// NewContext creates an execution context from a standard context.
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.New().String(),
		run:     &runState{startedAt: time.Now()},
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec
}

// withStage derives a per-stage context with an enriched logger.
// The run state is shared, not copied.
func (c *executionContext) withStage(stage string) *executionContext {
	derived := *c
	derived.stage = stage
	derived.logger = c.logger.With(
		slog.String("run_id", c.runID),
		slog.String("stage", stage),
	)
	return &derived
}

// asExecutionContext normalizes any Context into the internal type so the
// executor can share run state. Foreign implementations are wrapped.
func asExecutionContext(ctx Context) *executionContext {
	if ec, ok := ctx.(*executionContext); ok {
		if ec.run == nil {
			ec.run = &runState{startedAt: time.Now()}
		}
		return ec
	}
	return &executionContext{
		Context:  ctx,
		logger:   ctx.Logger(),
		signals:  ctx.Bus(),
		recorder: ctx.Metrics(),
		core:     ctx.Core(),
		runID:    ctx.RunID(),
		run:      &runState{startedAt: time.Now()},
	}
}

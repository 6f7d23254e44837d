/*
Package stagekit provides an event-driven pipeline orchestration core.

# Overview

stagekit coordinates request processing through a pipeline of named
stages. Stages declare dependencies and priorities; the pipeline computes
a deterministic execution order, runs each stage with a timeout and retry
policy, and tracks per-stage timings. An orchestrator sits in front of the
pipeline and adds admission control, a per-request deadline, lifecycle
signals, and metrics.

The building blocks compose but also work standalone:
  - event: request envelope with a phase state machine and checkpoints
  - bus: hierarchical wildcard pub/sub with failure isolation
  - metrics: threshold-aware timing recorder with statistics and
    bottleneck analysis
  - Pipeline: dependency-ordered, priority-aware stage execution
  - Orchestrator: intake, concurrency cap, deadline, lifecycle signals

# Basic Usage

Register stages, then process a request:

	core := stagekit.New()

	core.Pipeline().RegisterStage("validate", func(ctx stagekit.Context, evt *event.Event) (*event.Event, error) {
	    req, _ := evt.Payload().Request.(string)
	    if req == "" {
	        return nil, fmt.Errorf("empty request")
	    }
	    return nil, nil
	})

	core.Pipeline().RegisterStage("transform", transform,
	    stagekit.WithDependencies("validate"),
	    stagekit.WithStageTimeout(2*time.Second),
	    stagekit.WithMaxRetries(2))

	evt, err := core.Process(context.Background(), event.Payload{Request: "hello"})
	if err != nil {
	    log.Fatal(err)
	}
	fmt.Println(evt.Phase()) // "completed"

A stage handler may mutate the event in place and return nil, or return a
replacement event that flows to the following stages.

# Ordering

Execution order is dependency-first within each priority group, and
groups run from the highest priority value down. Registration order
breaks ties, so the order is stable across runs. Stages may be registered
before their dependencies exist; validation happens when the pipeline
runs, or explicitly:

	if res := core.Pipeline().ValidateDependencies(); !res.Valid {
	    log.Fatal(res.Err)
	}

# Signals

Subscribe to lifecycle signals, or any application signal, with exact
names or trailing wildcards:

	core.SignalBus().Subscribe("request:*", func(ctx context.Context, payload any, signal string) error {
	    note := payload.(stagekit.Lifecycle)
	    log.Printf("%s: %s", signal, note.EventID)
	    return nil
	})

A failing handler never prevents other handlers from running; failures
are tallied in the publish result and reported to error observers.

# Metrics

Every stage execution and completed request is timed. The recorder
classifies categories against configurable thresholds and can surface the
slowest categories:

	report := core.Recorder().Report()
	for _, b := range core.Recorder().Bottlenecks() {
	    log.Printf("%s exceeded threshold %d times (worst %s)", b.Category, b.Occurrences, b.WorstCase)
	}

An optional Prometheus exporter bridges samples to a registry, and the
observability subpackage emits OpenTelemetry metrics and spans.

# Error Handling

Errors carry the failing stage and run context:

	evt, err := core.Process(ctx, payload)
	var stageErr *stagekit.StageError
	if errors.As(err, &stageErr) {
	    log.Printf("stage %s failed after %d attempts: %v", stageErr.Stage, stageErr.Attempts, stageErr.Err)
	}

	var timeoutErr *stagekit.TimeoutError
	if errors.As(err, &timeoutErr) {
	    log.Printf("stage %s exceeded %s", timeoutErr.Stage, timeoutErr.Timeout)
	}

Panics in stage handlers are recovered and converted to PanicError with a
stack trace.

# Thread Safety

  - Pipeline, Orchestrator, bus.Bus, and metrics.Recorder are safe for
    concurrent use
  - event.Event is owned by one request and NOT safe for concurrent
    mutation
  - Context is immutable after creation

# Subpackages

  - event: request envelope and phase state machine
  - bus: wildcard signal bus
  - metrics: timing recorder, statistics, memory tracking
  - observability: slog helpers, OpenTelemetry metrics and tracing
  - config: file-based configuration loading
  - registry: ordered generic registry used by the pipeline
*/
package stagekit

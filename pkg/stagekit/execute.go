package stagekit

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/stagekit/stagekit/pkg/stagekit/event"
	"github.com/stagekit/stagekit/pkg/stagekit/observability"
)

// Execute runs the event through every registered stage in the computed
// order. Validation runs first; an invalid graph fails before any stage
// handler is called.
//
// A required stage failure stops the run with a StageError carrying the
// attempt count and run state. An optional stage failure is recorded on
// the context's failed list and execution continues. A stage whose
// dependencies did not complete is skipped when optional and fatal when
// required.
//
// Handlers may return a replacement event or nil to pass the input event
// through after in-place mutation.
func (p *Pipeline) Execute(ctx Context, evt *event.Event) (*event.Event, error) {
	if ctx == nil {
		return evt, ErrNilContext
	}

	p.mu.Lock()
	if p.orderErr != nil {
		err := p.orderErr
		p.mu.Unlock()
		return evt, err
	}
	order := make([]string, len(p.order))
	copy(order, p.order)
	stages := make(map[string]*Stage, len(order))
	for _, name := range order {
		s, _ := p.stages.Get(name)
		stages[name] = s
	}
	p.mu.Unlock()

	ec := asExecutionContext(ctx)

	for _, name := range order {
		s := stages[name]

		if missing := unmetDeps(s, ec.run.completed); len(missing) > 0 {
			if s.Optional {
				observability.LogStageSkipped(p.logger, name, missing)
				continue
			}
			return evt, &StageError{
				Stage:     name,
				Err:       fmt.Errorf("%w: %s", ErrDependenciesNotMet, strings.Join(missing, ", ")),
				Completed: ec.Completed(),
				Failed:    ec.Failed(),
			}
		}

		out, attempts, err := p.runStage(ec, s, evt)
		if err != nil {
			if s.Optional {
				ec.run.failed = append(ec.run.failed, name)
				continue
			}
			return evt, &StageError{
				Stage:     name,
				Err:       err,
				Attempts:  attempts,
				Completed: ec.Completed(),
				Failed:    ec.Failed(),
			}
		}

		ec.run.completed = append(ec.run.completed, name)
		if out != nil {
			evt = out
		}
	}

	return evt, nil
}

// unmetDeps returns the stage's dependencies not yet in completed.
func unmetDeps(s *Stage, completed []string) []string {
	if len(s.Dependencies) == 0 {
		return nil
	}
	done := make(map[string]bool, len(completed))
	for _, name := range completed {
		done[name] = true
	}
	var missing []string
	for _, dep := range s.Dependencies {
		if !done[dep] {
			missing = append(missing, dep)
		}
	}
	return missing
}

// runStage executes one stage with its retry policy. It returns the
// handler's output event (nil means pass-through), the number of attempts
// made, and the last error when all attempts failed.
func (p *Pipeline) runStage(ec *executionContext, s *Stage, evt *event.Event) (*event.Event, int, error) {
	stageCtx := ec.withStage(s.Name)
	maxAttempts := s.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		observability.LogStageStart(stageCtx.logger, s.Name, attempt)
		spanCtx, span := p.spans.StartStageSpan(stageCtx, s.Name)

		done := observability.TimedOperation()
		out, err := p.attempt(stageCtx, s, evt, attempt)
		elapsed := done()

		p.obs.RecordStageExecution(spanCtx, s.Name, attempt, elapsed, err)
		p.spans.EndSpanWithError(span, err)

		if err == nil {
			if p.recorder != nil {
				p.recorder.RecordDuration("pipeline.stage", elapsed, map[string]any{
					"stage":   s.Name,
					"attempt": attempt,
				})
			}
			target := evt
			if out != nil {
				target = out
			}
			target.RecordStageDuration(s.Name, elapsed)
			observability.LogStageComplete(stageCtx.logger, s.Name, float64(elapsed)/float64(time.Millisecond))
			return out, attempt, nil
		}

		observability.LogStageError(stageCtx.logger, s.Name, attempt, err)
		lastErr = err

		if attempt < maxAttempts {
			wait := p.backoff(attempt)
			observability.LogStageRetry(stageCtx.logger, s.Name, attempt, wait)
			select {
			case <-stageCtx.Done():
				return nil, attempt, stageCtx.Err()
			case <-time.After(wait):
			}
		}
	}

	return nil, maxAttempts, lastErr
}

type stageResult struct {
	evt *event.Event
	err error
}

// attempt runs the handler once, racing it against the stage timeout.
// On timeout the executor walks away: the handler keeps running and its
// late result is discarded through the buffered channel. Panics are
// converted to PanicError.
func (p *Pipeline) attempt(ctx *executionContext, s *Stage, evt *event.Event, attempt int) (*event.Event, error) {
	result := make(chan stageResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- stageResult{err: &PanicError{
					Stage: s.Name,
					Value: r,
					Stack: string(debug.Stack()),
				}}
			}
		}()
		out, err := s.fn(ctx, evt)
		result <- stageResult{evt: out, err: err}
	}()

	timer := time.NewTimer(s.Timeout)
	defer timer.Stop()

	select {
	case res := <-result:
		return res.evt, res.err
	case <-timer.C:
		return nil, &TimeoutError{Stage: s.Name, Timeout: s.Timeout, Attempt: attempt}
	}
}

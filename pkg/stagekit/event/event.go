// Package event defines the unit of work flowing through a stagekit pipeline.
//
// An Event is an envelope around an opaque domain payload. The core never
// interprets payload fields; it only manages identity, timing checkpoints,
// per-stage durations, and the lifecycle state machine:
//
//	created -> queued -> processing -> (streaming) -> completed | failed
//
// Events are mutable and owned by a single request; they are not safe for
// concurrent mutation from multiple goroutines.
package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase is an event lifecycle phase.
type Phase string

// Lifecycle phases.
const (
	PhaseCreated    Phase = "created"
	PhaseQueued     Phase = "queued"
	PhaseProcessing Phase = "processing"
	PhaseStreaming  Phase = "streaming"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Timing checkpoint names stamped by the state machine.
const (
	CheckpointCreated   = "created"
	CheckpointStarted   = "started"
	CheckpointCompleted = "completed"
)

// Sentinel errors for state machine misuse.
var (
	// ErrUnknownPhase indicates a phase name outside the documented set.
	ErrUnknownPhase = errors.New("unknown phase")

	// ErrInvalidTransition indicates a transition the state machine forbids.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrProgressRange indicates a progress value outside [0,100].
	ErrProgressRange = errors.New("progress out of range")
)

// transitions maps each phase to the phases it may enter next.
// Terminal phases have no successors.
var transitions = map[Phase][]Phase{
	PhaseCreated:    {PhaseQueued, PhaseProcessing, PhaseFailed},
	PhaseQueued:     {PhaseProcessing, PhaseFailed},
	PhaseProcessing: {PhaseStreaming, PhaseCompleted, PhaseFailed},
	PhaseStreaming:  {PhaseProcessing, PhaseCompleted, PhaseFailed},
	PhaseCompleted:  {},
	PhaseFailed:     {},
}

// Payload carries the opaque request/response halves of an event.
// The core passes these through untouched; stage handlers own the contents.
type Payload struct {
	Request  any
	Response any
}

// State is the lifecycle portion of an event.
type State struct {
	Phase    Phase
	Progress int
	Err      error
}

// Event is the unit of work routed through the pipeline.
type Event struct {
	id      string
	payload Payload
	state   State

	checkpoints map[string]time.Time
	stages      map[string]time.Duration
	stageOrder  []string
}

// New creates an event in the created phase with a generated ID and a
// stamped created checkpoint.
func New(payload Payload) *Event {
	e := &Event{
		id:      uuid.New().String(),
		payload: payload,
		state:   State{Phase: PhaseCreated},
		checkpoints: map[string]time.Time{
			CheckpointCreated: time.Now(),
		},
		stages: make(map[string]time.Duration),
	}
	return e
}

// ID returns the immutable event identifier.
func (e *Event) ID() string {
	return e.id
}

// Payload returns the opaque payload envelope.
func (e *Event) Payload() Payload {
	return e.payload
}

// SetResponse stores the response half of the payload.
func (e *Event) SetResponse(v any) {
	e.payload.Response = v
}

// Phase returns the current lifecycle phase.
func (e *Event) Phase() Phase {
	return e.state.Phase
}

// Progress returns the current progress value in [0,100].
func (e *Event) Progress() int {
	return e.state.Progress
}

// Err returns the failure error, non-nil only in the failed phase.
func (e *Event) Err() error {
	return e.state.Err
}

// SetPhase transitions the event to the given phase.
//
// Entering processing for the first time stamps the started checkpoint;
// re-entry does not overwrite it. Entering completed or failed stamps the
// completed checkpoint. Unknown phase names and forbidden transitions are
// usage errors, not silent no-ops.
func (e *Event) SetPhase(p Phase) error {
	if _, known := transitions[p]; !known {
		return fmt.Errorf("%w: %q", ErrUnknownPhase, p)
	}
	if !e.canTransition(p) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.state.Phase, p)
	}

	e.state.Phase = p
	switch p {
	case PhaseProcessing:
		if _, stamped := e.checkpoints[CheckpointStarted]; !stamped {
			e.checkpoints[CheckpointStarted] = time.Now()
		}
	case PhaseCompleted, PhaseFailed:
		e.checkpoints[CheckpointCompleted] = time.Now()
	}
	return nil
}

func (e *Event) canTransition(to Phase) bool {
	if to == e.state.Phase {
		return true
	}
	for _, p := range transitions[e.state.Phase] {
		if p == to {
			return true
		}
	}
	return false
}

// SetError records err and forces the phase to failed.
// A nil err is ignored.
func (e *Event) SetError(err error) {
	if err == nil {
		return
	}
	e.state.Err = err
	e.state.Phase = PhaseFailed
	e.checkpoints[CheckpointCompleted] = time.Now()
}

// SetProgress sets the progress value. Values outside [0,100] are rejected.
func (e *Event) SetProgress(pct int) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w: %d", ErrProgressRange, pct)
	}
	e.state.Progress = pct
	return nil
}

// Checkpoint returns the named timing checkpoint and whether it was stamped.
func (e *Event) Checkpoint(name string) (time.Time, bool) {
	t, ok := e.checkpoints[name]
	return t, ok
}

// RecordStageDuration records the elapsed time of a named stage.
// Re-recording the same stage overwrites the previous duration.
func (e *Event) RecordStageDuration(stage string, d time.Duration) {
	if _, seen := e.stages[stage]; !seen {
		e.stageOrder = append(e.stageOrder, stage)
	}
	e.stages[stage] = d
}

// StageDuration returns the recorded duration for a stage.
func (e *Event) StageDuration(stage string) (time.Duration, bool) {
	d, ok := e.stages[stage]
	return d, ok
}

// StageDurations returns stage durations keyed by stage name.
// The returned map is a copy.
func (e *Event) StageDurations() map[string]time.Duration {
	out := make(map[string]time.Duration, len(e.stages))
	for k, v := range e.stages {
		out[k] = v
	}
	return out
}

// StageNames returns the stages with recorded durations in recording order.
func (e *Event) StageNames() []string {
	out := make([]string, len(e.stageOrder))
	copy(out, e.stageOrder)
	return out
}

// Elapsed returns processing time: the completed checkpoint (or now) minus
// the started checkpoint, or zero if processing never started.
func (e *Event) Elapsed() time.Duration {
	started, ok := e.checkpoints[CheckpointStarted]
	if !ok {
		return 0
	}
	end, ok := e.checkpoints[CheckpointCompleted]
	if !ok {
		end = time.Now()
	}
	return end.Sub(started)
}

// Terminal reports whether the event reached completed or failed.
func (e *Event) Terminal() bool {
	return e.state.Phase == PhaseCompleted || e.state.Phase == PhaseFailed
}

package stagekit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for stage registration.
var (
	// ErrNilHandler indicates RegisterStage was called with a nil handler.
	ErrNilHandler = errors.New("stage handler cannot be nil")

	// ErrDuplicateStage indicates the stage name is already registered.
	ErrDuplicateStage = errors.New("stage already registered")

	// ErrStageInUse indicates an unregister attempt on a stage that other
	// stages still depend on.
	ErrStageInUse = errors.New("stage has dependents")
)

// Sentinel errors for execution.
var (
	// ErrNilContext indicates Execute was called with a nil context.
	ErrNilContext = errors.New("execution context cannot be nil")

	// ErrDependenciesNotMet indicates a required stage ran before its
	// dependencies completed.
	ErrDependenciesNotMet = errors.New("required dependencies not met")

	// ErrRequestTimeout indicates the per-request deadline elapsed before
	// the pipeline finished.
	ErrRequestTimeout = errors.New("request timed out")
)

// DependencyError reports a dependency referencing an unregistered stage.
type DependencyError struct {
	// Stage is the stage declaring the dependency.
	Stage string
	// Missing is the unregistered dependency name.
	Missing string
}

// Error implements the error interface.
func (e *DependencyError) Error() string {
	return fmt.Sprintf("stage %s depends on unregistered stage %s", e.Stage, e.Missing)
}

// CycleError reports a dependency cycle.
type CycleError struct {
	// Stage is the first stage at which the cycle was detected.
	Stage string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected at stage %s", e.Stage)
}

// StageError wraps a stage's terminal failure with run context.
type StageError struct {
	// Stage is the stage that failed.
	Stage string
	// Err is the underlying error from the last attempt.
	Err error
	// Attempts is the number of attempts made.
	Attempts int
	// Completed and Failed are the run context at the point of failure.
	Completed []string
	Failed    []string
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v (completed: %s)",
		e.Stage, e.Attempts, e.Err, joinOrNone(e.Completed))
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StageError) Unwrap() error {
	return e.Err
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

// TimeoutError reports a stage attempt that did not settle within its
// timeout. The underlying handler may still be running; the executor only
// stops waiting.
type TimeoutError struct {
	// Stage is the stage that timed out.
	Stage string
	// Timeout is the configured limit.
	Timeout time.Duration
	// Attempt is the attempt number that timed out (1-based).
	Attempt int
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage %s attempt %d timed out after %s", e.Stage, e.Attempt, e.Timeout)
}

// PanicError captures a panic from a stage handler.
type PanicError struct {
	// Stage is the stage whose handler panicked.
	Stage string
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("stage %s panicked: %v", e.Stage, e.Value)
}

// AdmissionError reports a request rejected at the concurrency cap.
type AdmissionError struct {
	// Active is the in-flight request count at rejection time.
	Active int
	// Max is the configured cap.
	Max int
}

// Error implements the error interface.
func (e *AdmissionError) Error() string {
	return fmt.Sprintf("request rejected: %d of %d concurrent requests in flight", e.Active, e.Max)
}

// ValidationResult is the outcome of dependency validation.
type ValidationResult struct {
	Valid bool
	Err   error
}

package stagekit

import (
	"time"

	"github.com/stagekit/stagekit/pkg/stagekit/event"
)

// Default stage execution policy.
const (
	DefaultStageTimeout = 5 * time.Second
	DefaultMaxRetries   = 0
	DefaultPriority     = 0
)

// StageFunc is the signature for all stage handlers.
// Handlers receive the execution context and the current event. They may
// mutate the event in place and return nil, or return a replacement event
// used for subsequent stages. Returning an error (or panicking) marks the
// attempt failed.
type StageFunc func(ctx Context, evt *event.Event) (*event.Event, error)

// Stage is a named processing step with its execution policy.
type Stage struct {
	// Name is the unique key within a pipeline.
	Name string
	// Dependencies are stage names that must complete first.
	Dependencies []string
	// Priority orders stages with satisfied dependencies; higher runs
	// earlier.
	Priority int
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Optional stages fail without aborting the run.
	Optional bool

	fn StageFunc
}

// StageOption configures a stage at registration.
type StageOption func(*Stage)

// WithDependencies sets the stages that must complete before this one.
// Dependencies need not be registered yet; validation is deferred until
// execution or an explicit ValidateDependencies call.
func WithDependencies(names ...string) StageOption {
	return func(s *Stage) {
		s.Dependencies = append(s.Dependencies, names...)
	}
}

// WithPriority sets the stage priority. Default: 0.
func WithPriority(p int) StageOption {
	return func(s *Stage) {
		s.Priority = p
	}
}

// WithStageTimeout bounds each attempt. Default: 5s.
func WithStageTimeout(d time.Duration) StageOption {
	return func(s *Stage) {
		if d > 0 {
			s.Timeout = d
		}
	}
}

// WithMaxRetries sets how many times a failed attempt is retried.
// Default: 0 (single attempt).
func WithMaxRetries(n int) StageOption {
	return func(s *Stage) {
		if n >= 0 {
			s.MaxRetries = n
		}
	}
}

// WithOptional marks the stage optional: its terminal failure is recorded
// but does not abort the run, and it is skipped when its dependencies did
// not complete.
func WithOptional() StageOption {
	return func(s *Stage) {
		s.Optional = true
	}
}

// clone returns a copy safe to hand out from introspection methods.
func (s *Stage) clone() Stage {
	out := *s
	out.Dependencies = make([]string, len(s.Dependencies))
	copy(out.Dependencies, s.Dependencies)
	out.fn = nil
	return out
}

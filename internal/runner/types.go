// Package runner executes work functions.
//
// Run is the synchronous contract: it runs one function to an Outcome and
// never panics. Service is a fixed worker pool in front of Run; the scheduler
// hands it jobs with TrySubmit and learns the result through Job.Done.
package runner

import (
	"context"
	"time"

	"workmgr/internal/work"
)

// WorkFunc is the user-provided body of a unit of work. It should honor ctx;
// Run does not wait for functions that ignore cancellation.
type WorkFunc func(ctx context.Context, input work.Data) (work.Data, error)

type OutcomeKind int

const (
	Success OutcomeKind = iota
	Failure
	Cancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is the result of one execution.
//
// Output is set only for Success. Err is set for Failure, and for Cancelled it
// carries the cancellation cause.
type Outcome struct {
	Kind     OutcomeKind
	Output   work.Data
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Job is one execution request.
type Job struct {
	ID     string
	Worker string
	// Fn overrides the registry lookup of Worker when set.
	Fn    WorkFunc
	Input work.Data
	// Ctx cancels the execution. Nil means context.Background().
	Ctx context.Context
	// Timeout overrides Config.DefaultTimeout when > 0.
	Timeout time.Duration
	// Done is called exactly once with the outcome, from the worker goroutine.
	Done func(Outcome)
}

// Config controls the worker pool.
type Config struct {
	Workers int
	// DefaultTimeout bounds each execution. 0 disables it.
	DefaultTimeout time.Duration
}

// RunEvent is the payload of eventbus.TypeWorkRun events.
type RunEvent struct {
	ID       string
	Worker   string
	Outcome  string
	Duration time.Duration
	Err      string
}

// Observer receives per-run measurements (e.g. prometheus collectors).
type Observer interface {
	ObserveRun(worker, outcome string, d time.Duration)
}

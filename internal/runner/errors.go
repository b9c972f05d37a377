package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy means no worker is idle right now; try again after a completion.
	ErrBusy = errors.New("runner busy")
	// ErrStopped is returned by TrySubmit after Stop and used as the
	// cancellation cause for executions interrupted by Stop.
	ErrStopped       = errors.New("runner stopped")
	ErrUnknownWorker = errors.New("unknown worker")
	ErrNilWorkFunc   = errors.New("work function is nil")
)

// PanicError is the Failure error of a work function that panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

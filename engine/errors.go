package engine

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrInvalidArgument indicates a malformed turn invocation: exactly one
	// of initial state or resume response must be supplied.
	ErrInvalidArgument = errors.New("exactly one of initial state or resume response must be supplied")

	// ErrLeaseHeld indicates another turn currently holds the thread's lease.
	ErrLeaseHeld = errors.New("thread lease is held by another turn")

	// ErrNoPendingInterrupt indicates a resume response was supplied but the
	// latest checkpoint carries no pending interrupt request.
	ErrNoPendingInterrupt = errors.New("no pending interrupt to resume")

	// ErrThreadCanceled indicates the thread was canceled; no further turns
	// will execute.
	ErrThreadCanceled = errors.New("thread is canceled")

	// ErrStageNotRegistered indicates the scheduler selected an action with
	// no stage function bound to it.
	ErrStageNotRegistered = errors.New("no stage registered for action")
)

// StageError wraps a failure raised inside a stage. Retryable distinguishes
// transient tool/network failures from terminal ones such as data
// corruption; retries of transient failures belong to the stage
// implementation, the engine only honors attempt-count-bounded section
// retries.
type StageError struct {
	Action    string
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("stage %q failed (%s): %v", e.Action, kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err as a stage failure.
func NewStageError(action string, retryable bool, err error) *StageError {
	return &StageError{Action: action, Retryable: retryable, Err: err}
}

// Package handshake error types, with cause chain support.

package handshake

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrNotSupported is returned when the host hooks report that thread
	// local handshakes are not available on this platform.
	ErrNotSupported = errors.New("handshake: thread local handshakes are not supported on this platform")

	// ErrWorkerNotAlive is returned by RunThreadLocal when a target worker
	// has already exited (or was collected).
	ErrWorkerNotAlive = errors.New("handshake: worker no longer alive with pending handshake")

	// ErrNilAction is returned by RunThreadLocal when no action is provided.
	ErrNilAction = errors.New("handshake: nil action")

	// ErrNotOnWorker is returned when a worker-only operation is invoked
	// from a goroutine other than the one the safepoint belongs to.
	ErrNotOnWorker = errors.New("handshake: safepoint accessed from a different goroutine")

	// ErrInterruptedBlocker is the result an Interruptible must return when
	// its blocking call was woken by the worker's Interrupter rather than
	// completing normally. SetBlocked treats any other error as a normal
	// failure and propagates it.
	ErrInterruptedBlocker = errors.New("handshake: blocking call interrupted")
)

// AggregateError combines multiple action errors raised during a single
// safepoint drain. Primary is the error that is reported first; Suppressed
// holds the remaining errors in the order they were attached.
//
// A [WorkerDeathError] is never demoted: when one is raised it becomes the
// Primary and the previous aggregate moves to Suppressed.
type AggregateError struct {
	Primary    error
	Suppressed []error
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	if len(e.Suppressed) == 0 {
		return e.Primary.Error()
	}
	return fmt.Sprintf("%s (and %d suppressed)", e.Primary, len(e.Suppressed))
}

// Unwrap returns the primary error followed by the suppressed errors, for
// multi-error unwrapping (Go 1.20+). This enables [errors.Is] and
// [errors.As] to check against all errors in the aggregate.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Suppressed)+1)
	errs = append(errs, e.Primary)
	errs = append(errs, e.Suppressed...)
	return errs
}

// Is implements custom error matching for AggregateError.
// Returns true if target is an AggregateError (regardless of contents).
func (e *AggregateError) Is(target error) bool {
	var aggTarget *AggregateError
	return errors.As(target, &aggTarget)
}

// PanicError wraps a panic recovered from a handshake action, so it can be
// aggregated and returned from the worker's poll like any other error.
type PanicError struct {
	// Value is the recovered panic value.
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handshake: action panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// This enables use with [errors.Is] and [errors.As] for error matching
// through the cause chain.
//
// If the panic Value is not an error (e.g., a string or other type),
// returns nil.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// TimeoutError is returned by Handshake.GetTimeout when the deadline passes
// before the observed phases complete. The handshake itself is left intact;
// workers may still perform the action afterwards.
type TimeoutError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "handshake: operation timed out"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is support for TimeoutError.
func (e *TimeoutError) Is(target error) bool {
	_, ok := target.(*TimeoutError)
	return ok
}

// WorkerDeathError signals that the worker must unwind. Actions return (or
// panic with) this error kind to request termination of the worker's loop.
//
// During drain aggregation a worker death is promoted to the primary error
// of the resulting [AggregateError], regardless of the order in which the
// actions failed.
type WorkerDeathError struct {
	// Reason optionally describes why the worker is being torn down.
	Reason any
}

// Error implements the error interface.
func (e *WorkerDeathError) Error() string {
	if e.Reason == nil {
		return "handshake: worker death requested"
	}
	return fmt.Sprintf("handshake: worker death requested: %v", e.Reason)
}

// Is implements errors.Is support for WorkerDeathError.
func (e *WorkerDeathError) Is(target error) bool {
	_, ok := target.(*WorkerDeathError)
	return ok
}

// Unwrap returns the underlying error if Reason is an error type.
func (e *WorkerDeathError) Unwrap() error {
	if err, ok := e.Reason.(error); ok {
		return err
	}
	return nil
}

// combineDrainError merges a new action error into the running aggregate for
// one drain. The existing aggregate stays primary, with the new error
// attached as suppressed, except when the new error carries a
// [WorkerDeathError]: the death becomes primary and the previous aggregate
// becomes its suppressed cause.
func combineDrainError(current, next error) error {
	if current == nil {
		return next
	}
	var death *WorkerDeathError
	if errors.As(next, &death) {
		return &AggregateError{Primary: next, Suppressed: []error{current}}
	}
	if agg, ok := current.(*AggregateError); ok {
		agg.Suppressed = append(agg.Suppressed, next)
		return agg
	}
	return &AggregateError{Primary: current, Suppressed: []error{next}}
}

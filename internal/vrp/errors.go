// Package vrp defines the vehicle-routing problem model shared by all
// solvers: jobs, vehicles, problems, solutions, the error taxonomy, and
// solution verification.
package vrp

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Core error taxonomy. Components wrap these with fmt.Errorf("...: %w", ...)
// so callers classify with errors.Is.
var (
	// ErrInvalidInput marks a malformed problem: duplicate ids, negative
	// demands, impossible windows. Surfaced to the caller immediately.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInfeasible means no valid assignment exists under the hard
	// constraints and the problem forbids unassigned jobs.
	ErrInfeasible = errors.New("infeasible problem")

	// ErrBackendUnavailable means a matrix or solver backend could not be
	// reached after retries. Triggers registry fallback.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrTimedOut means a per-call deadline expired. Treated as
	// ErrBackendUnavailable for fallback purposes (see IsUnavailable).
	ErrTimedOut = errors.New("timed out")

	// ErrQueueFull is the back-pressure signal of the event pipeline.
	ErrQueueFull = errors.New("queue full")

	// ErrNotFound marks a referenced entity missing from the repository.
	ErrNotFound = errors.New("not found")

	// ErrInternal marks a bug; never expected in normal operation.
	ErrInternal = errors.New("internal error")
)

// IsUnavailable reports whether err should advance a solver fallback chain:
// backend unreachable, or a deadline mapped onto it.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrTimedOut) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsCancelled reports upstream cancellation, which short-circuits without
// fallback.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// InvalidInputError carries the offending ids alongside ErrInvalidInput.
type InvalidInputError struct {
	Reason string
	IDs    []string
}

func (e *InvalidInputError) Error() string {
	if len(e.IDs) == 0 {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input: %s (%s)", e.Reason, strings.Join(e.IDs, ", "))
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// InfeasibleError carries the job ids that could not be assigned when the
// problem forbids leaving jobs unassigned.
type InfeasibleError struct {
	JobIDs []string
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("infeasible problem: %d job(s) cannot be assigned (%s)",
		len(e.JobIDs), strings.Join(e.JobIDs, ", "))
}

func (e *InfeasibleError) Unwrap() error { return ErrInfeasible }

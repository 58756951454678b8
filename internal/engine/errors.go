package engine

import (
	"errors"
	"fmt"
	"strings"

	"aocr/internal/domain"
)

// InvalidEdgeError means the target is not reachable in one step from the current state.
type InvalidEdgeError struct {
	From domain.State
	To   domain.State
}

func (e *InvalidEdgeError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// UnauthorizedError means none of the actor's roles is allowed on the edge.
type UnauthorizedError struct {
	ActorID  string
	Edge     domain.Edge
	Required []string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("actor %s may not perform %s (requires one of %s)", e.ActorID, e.Edge, strings.Join(e.Required, ", "))
}

// GateFailure carries an operator-readable reason from the first gate that failed.
type GateFailure struct {
	Gate   string
	Reason string
}

func (e *GateFailure) Error() string {
	return fmt.Sprintf("%s gate: %s", e.Gate, e.Reason)
}

// StoreUnavailableError wraps infrastructure failures. Callers retry with backoff.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

var (
	// ErrConcurrentModification is returned after the single retry also lost the race.
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrRequestClosed          = errors.New("request is in a terminal state")
	ErrNotTechnician          = errors.New("assignee does not hold a technical role")
	ErrUnknownTrigger         = errors.New("unknown trigger kind")
)

func storeErr(op string, err error) error {
	return &StoreUnavailableError{Op: op, Err: err}
}

// Outcome classifies err for metrics and logs.
func Outcome(err error) string {
	var (
		invalid *InvalidEdgeError
		unauth  *UnauthorizedError
		gate    *GateFailure
		store   *StoreUnavailableError
	)
	switch {
	case err == nil:
		return "accepted"
	case errors.As(err, &invalid):
		return "invalid_edge"
	case errors.As(err, &unauth):
		return "unauthorized"
	case errors.As(err, &gate):
		return "gate_failure"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	case errors.As(err, &store):
		return "store_unavailable"
	default:
		return "error"
	}
}

// ErrInvalidInput marks malformed arguments; the message names the field.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

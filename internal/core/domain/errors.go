package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input rejected before any ledger interaction.
	ErrValidation = errors.New("validation failed")

	// ErrStateConflict marks a request the current match state does not allow.
	ErrStateConflict = errors.New("state conflict")

	// ErrNotFound marks an unknown match or player.
	ErrNotFound = errors.New("not found")

	// ErrLedger marks a failed ledger read or write.
	ErrLedger = errors.New("ledger failure")
)

// OpError describes a failed coordinator operation.
type OpError struct {
	Op      string
	MatchID string
	Kind    error
	Reason  string
	// Detail carries the preflight payload computed before the failure, if any.
	Detail any
	Err    error
}

func (e *OpError) Error() string {
	msg := e.Op
	if e.MatchID != "" {
		msg += " " + e.MatchID
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Validationf builds an ErrValidation error with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/featherproxy/feather/internal/server/db"
)

// ValidationError marks malformed, out-of-range or incompatible input. No
// state was changed.
type ValidationError struct{ Err error }

func (e ValidationError) Error() string { return e.Err.Error() }
func (e ValidationError) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	return ValidationError{Err: fmt.Errorf(format, args...)}
}

// NotFoundError reports a referenced id that does not resolve.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

// ConflictError reports a write refused to keep referential integrity or
// uniqueness.
type ConflictError struct{ Err error }

func (e ConflictError) Error() string { return e.Err.Error() }
func (e ConflictError) Unwrap() error { return e.Err }

// TransportError wraps a store or reload failure caused by an unreachable
// collaborator or an expired deadline. Callers may retry with backoff; the
// model never retries on its own.
type TransportError struct {
	Op  string
	Err error
}

func (e TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e TransportError) Unwrap() error { return e.Err }

// Retryable always reports true.
func (e TransportError) Retryable() bool { return true }

// UnavailableError indicates a required component was not configured.
type UnavailableError struct{ Component string }

func (e UnavailableError) Error() string { return fmt.Sprintf("%s unavailable", e.Component) }

const (
	kindSourceServer   = "source server"
	kindTargetServer   = "target server"
	kindAuthentication = "authentication"
	kindRoute          = "route"
)

// notFound converts a store miss into a NotFoundError for kind/id and passes
// anything else through.
func notFound(kind, id string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return NotFoundError{Kind: kind, ID: id}
	}
	return err
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		validation  ValidationError
		missing     NotFoundError
		conflict    ConflictError
		transport   TransportError
		unavailable UnavailableError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &missing), errors.As(err, &conflict),
		errors.As(err, &transport), errors.As(err, &unavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return TransportError{Op: op, Err: err}
	case errors.Is(err, db.ErrConstraint):
		return ConflictError{Err: err}
	case errors.Is(err, db.ErrNotFound):
		return NotFoundError{Kind: "record", ID: op}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error taxonomy. Adapters translate backend-specific failures into these
// sentinels so the reconciler can react uniformly.
var (
	// ErrTransient is a network timeout, 5xx, or connection reset; retried
	// within the cycle, never poisons it.
	ErrTransient = errors.New("transient provider error")

	// ErrAuth is invalid credentials (401/403). Marks the adapter degraded.
	ErrAuth = errors.New("authentication failed")

	// ErrQuota is a rate limit. The cycle backs off and retries next tick.
	ErrQuota = errors.New("rate limited")

	// ErrValidation is a desired record failing type-specific validation.
	ErrValidation = errors.New("record validation failed")

	// ErrRecordExists is returned on create when a duplicate already exists.
	ErrRecordExists = errors.New("record already exists")

	// ErrNotFound is a missing delete or update target.
	ErrNotFound = errors.New("record not found")

	// ErrUnsupportedType is a record type the provider does not support.
	ErrUnsupportedType = errors.New("unsupported record type")

	// ErrOutOfZone is a hostname outside the adapter's zone. Not surfaced as
	// a per-record error; the row is skipped.
	ErrOutOfZone = errors.New("hostname outside zone")

	// ErrConflict is an irreconcilable collision between desired records or
	// a policy-store duplicate.
	ErrConflict = errors.New("conflict")

	// ErrFatal aborts the cycle (invalid configuration, corrupted state).
	ErrFatal = errors.New("fatal")
)

// OpError wraps an error with provider and operation context.
type OpError struct {
	Provider  string
	Operation string
	Err       error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Operation, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// WrapOp attaches provider/operation context; nil stays nil.
func WrapOp(provider, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Provider: provider, Operation: operation, Err: err}
}

// IsTransient reports whether an error should be retried within the cycle.
// Raw network errors count as transient even before adapters classify them.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func IsAuth(err error) bool            { return errors.Is(err, ErrAuth) }
func IsQuota(err error) bool           { return errors.Is(err, ErrQuota) }
func IsRecordExists(err error) bool    { return errors.Is(err, ErrRecordExists) }
func IsNotFound(err error) bool        { return errors.Is(err, ErrNotFound) }
func IsUnsupportedType(err error) bool { return errors.Is(err, ErrUnsupportedType) }
func IsOutOfZone(err error) bool       { return errors.Is(err, ErrOutOfZone) }
func IsConflict(err error) bool        { return errors.Is(err, ErrConflict) }
func IsFatal(err error) bool           { return errors.Is(err, ErrFatal) }

package service

import (
	"errors"
	"fmt"
)

// ErrSaveInFlight rejects a bulk save issued while a previous save for
// the same draft manager has not finished.
var ErrSaveInFlight = errors.New("override save already in flight")

// ErrTenantNotFound reports an unknown or inactive tenant at the
// service boundary.
var ErrTenantNotFound = errors.New("tenant not found")

// ValidationError rejects a request before any mutation happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a field-scoped validation failure.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err carries validation semantics.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientError marks a failure the caller may retry on the next
// trigger, such as a fetch timeout or an unreachable backend.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

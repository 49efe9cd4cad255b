// Package apperror defines the failure taxonomy shared across the identity
// core. Service and resolution code return these; the HTTP layer maps them
// to status codes in one place.
package apperror

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: a looked-up record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation: malformed input, rejected before business logic.
	ErrValidation = errors.New("validation error")
	// ErrConflict: attempted to claim an identity already linked to another
	// account. No mutation is performed when this is returned.
	ErrConflict = errors.New("conflict")
	// ErrCredentialMissing: no usable credential cookie for this request.
	// Maps to 401 Unauthorized.
	ErrCredentialMissing = errors.New("credential missing")
	// ErrUpstream: an identity provider was unreachable or answered with a
	// non-2xx status. Maps to 502 Bad Gateway.
	ErrUpstream = errors.New("upstream unavailable")
	// ErrDataIntegrity: a persisted invariant does not hold (e.g. a view-as
	// mapping pointing at a deleted user). Maps to 500 and is logged as a
	// bug, never shown as a user-facing auth failure.
	ErrDataIntegrity = errors.New("data integrity violation")
)

// AppError pairs a sentinel from the taxonomy above with a human-readable
// message (and optionally the offending field).
type AppError struct {
	Err     error  // one of the sentinels above
	Message string // human-readable error message
	Field   string // optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

// CredentialMissing reports that no valid credential was presented. This is
// the "no usable cookie" outcome, distinct from a rejected credential.
func CredentialMissing(message string) *AppError {
	return &AppError{
		Err:     ErrCredentialMissing,
		Message: message,
	}
}

// Upstream reports a provider network or HTTP failure.
func Upstream(provider, message string) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: fmt.Sprintf("%s: %s", provider, message),
	}
}

// DataIntegrity reports a violated persistence invariant.
func DataIntegrity(message string) *AppError {
	return &AppError{
		Err:     ErrDataIntegrity,
		Message: message,
	}
}

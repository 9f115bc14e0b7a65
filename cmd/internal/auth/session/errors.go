package session

import (
	"errors"
	"fmt"
)

// Errors returned by Service. Callers match them with errors.Is.
var (
	ErrValidation         = errors.New("invalid request")
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
	ErrInvalidSession     = errors.New("invalid session")
	ErrInternal           = errors.New("internal error")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// Store error kinds. Stores return these (optionally wrapped); Service
// folds them into the caller-facing errors above.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrPasswordMismatch = errors.New("password mismatch")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrSessionRotated  = errors.New("session token superseded")
	ErrRefreshMismatch = errors.New("refresh token mismatch")
	ErrRefreshConsumed = errors.New("refresh token already used")
	ErrRefreshExpired  = errors.New("refresh token expired")
	ErrAddressMismatch = errors.New("client address mismatch")
)

// ValidationError reports a malformed input before any store is consulted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e ValidationError) Unwrap() error { return ErrValidation }

// InternalError hides a store failure from the caller.
// Error() carries only the correlation id; the cause is for server logs.
type InternalError struct {
	Op            string
	CorrelationID string
	Err           error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s (correlation_id=%s)", ErrInternal, e.CorrelationID)
}

func (e *InternalError) Unwrap() error { return ErrInternal }

// Cause returns the underlying store error.
func (e *InternalError) Cause() error { return e.Err }

// CorrelationID extracts the id from an *InternalError anywhere in err's chain.
func CorrelationID(err error) string {
	var ie *InternalError
	if errors.As(err, &ie) {
		return ie.CorrelationID
	}
	return ""
}

func isCredentialKind(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrPasswordMismatch)
}

func isRefreshKind(err error) bool {
	for _, k := range []error{
		ErrSessionNotFound, ErrSessionRevoked, ErrSessionRotated,
		ErrRefreshMismatch, ErrRefreshConsumed, ErrRefreshExpired, ErrAddressMismatch,
	} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

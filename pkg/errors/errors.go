package errors

import (
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeInternal        ErrorType = "internal"
	ErrorTypeBadRequest      ErrorType = "bad_request"
	ErrorTypeRouteNotFound   ErrorType = "RouteNotFound"
	ErrorTypeAuth            ErrorType = "AuthError"
	ErrorTypeCircuitOpen     ErrorType = "CircuitOpen"
	ErrorTypeUpstreamTimeout ErrorType = "UpstreamTimeout"
	ErrorTypeUpstreamConnect ErrorType = "UpstreamConnectionFailure"
	ErrorTypeRateLimit       ErrorType = "RateLimited"
)

// AuthReason identifies why authentication failed
type AuthReason string

const (
	AuthReasonMissing          AuthReason = "MISSING"
	AuthReasonMalformed        AuthReason = "MALFORMED"
	AuthReasonExpired          AuthReason = "EXPIRED"
	AuthReasonInvalidSignature AuthReason = "INVALID_SIGNATURE"
)

// Error represents a structured error with additional context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]any
}

// NewError creates a new structured error
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Details: make(map[string]any),
	}
}

// NewAuthError creates an authentication error with its failure reason
func NewAuthError(reason AuthReason, message string) *Error {
	return NewError(ErrorTypeAuth, message).WithDetail("reason", reason)
}

// WithCause adds the underlying cause to the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value any) *Error {
	e.Details[key] = value
	return e
}

// AuthReason returns the authentication failure reason, if any
func (e *Error) AuthReason() (AuthReason, bool) {
	reason, ok := e.Details["reason"].(AuthReason)
	return reason, ok
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// HTTPStatusCode returns the appropriate HTTP status code for the error type
func (e *Error) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeRouteNotFound:
		return 404
	case ErrorTypeAuth:
		return 401
	case ErrorTypeCircuitOpen:
		return 503
	case ErrorTypeUpstreamTimeout:
		return 504
	case ErrorTypeUpstreamConnect:
		return 502
	case ErrorTypeRateLimit:
		return 429
	case ErrorTypeBadRequest:
		return 400
	default:
		return 500
	}
}

// ClientFault reports whether the error was caused by the client rather
// than an unhealthy upstream. Client faults must never feed circuit
// breaker accounting.
func (e *Error) ClientFault() bool {
	switch e.Type {
	case ErrorTypeRouteNotFound, ErrorTypeAuth, ErrorTypeBadRequest, ErrorTypeRateLimit:
		return true
	}
	return false
}

package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a failure into the gateway's outcome taxonomy. The set is
// closed: every component error maps to exactly one code, and the HTTP layer
// maps each code to exactly one response shape.
type Code string

const (
	// CodeRateLimited marks admission rejections. Retryable after the delay
	// carried alongside the error.
	CodeRateLimited Code = "rate_limited"

	// CodeUnauthenticated marks credential failures (expired, malformed,
	// bad signature, missing claims). Not retryable without a new credential.
	CodeUnauthenticated Code = "unauthenticated"

	// CodeUnauthorized marks policy denials (role, purpose, mfa,
	// minimum-necessary). Not retryable without a privilege change.
	CodeUnauthorized Code = "unauthorized"

	// CodeIntegrityFailure marks a single protected field whose ciphertext
	// could not be verified. Degrades the field, never the request.
	CodeIntegrityFailure Code = "integrity_failure"

	// CodeSinkUnavailable marks counter-store or audit-sink unavailability.
	// Fatal for the request it describes; the gateway fails closed.
	CodeSinkUnavailable Code = "sink_unavailable"

	CodeInvalidInput Code = "invalid_input"
	CodeNotFound     Code = "not_found"
	CodeInternal     Code = "internal"
)

// Error carries a code plus a human-readable message. The message is for
// operators; handlers expose only the code category to callers.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is match on code equality so callers can compare against
// sentinel instances without caring about messages.
func (e *Error) Is(target error) bool {
	var de *Error
	if !errors.As(target, &de) {
		return false
	}
	return e.Code == de.Code
}

// New creates a coded error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// Wrapf attaches a code and a formatted message to an underlying error.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// CodeOf extracts the code from an error chain, defaulting to CodeInternal
// for errors that never passed through this package.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

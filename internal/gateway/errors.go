package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a gateway failure. Each kind maps to one HTTP status.
type Kind int

const (
	// KindInternal is an unexpected failure.
	KindInternal Kind = iota

	// KindValidation is a malformed or out-of-range request field.
	KindValidation

	// KindNotFound is an unknown backend, model or voice.
	KindNotFound

	// KindRateLimited means the client exceeded its request budget.
	KindRateLimited

	// KindBackendUnavailable means the selected backend is down or its call
	// failed.
	KindBackendUnavailable
)

// String returns the label written to the "error" field of response bodies.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindBackendUnavailable:
		return "backend_unavailable"
	default:
		return "internal_error"
	}
}

// HTTPStatus returns the status code for k.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the error type returned by every [Service] operation. Message is
// safe to show to clients; Err carries the cause for logs only.
type Error struct {
	Kind       Kind
	Message    string
	Backend    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// AsError returns err as an *Error. Errors of any other type are wrapped as
// internal errors with a generic message.
func AsError(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return &Error{Kind: KindInternal, Message: "internal server error", Err: err}
}

// KindOf returns the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	return AsError(err).Kind
}

func validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

func unavailable(backendID string, err error) *Error {
	return &Error{
		Kind:    KindBackendUnavailable,
		Message: fmt.Sprintf("backend %s is unavailable", backendID),
		Backend: backendID,
		Err:     err,
	}
}

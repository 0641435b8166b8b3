package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrorKind classifies a failed backend call.
type ErrorKind int

const (
	// KindTimeout means the call exceeded its deadline.
	KindTimeout ErrorKind = iota + 1

	// KindHTTPStatus means the engine answered with a non-success status.
	KindHTTPStatus

	// KindProtocol means the engine answered but the response could not be
	// understood (bad JSON, missing fields, reported failure).
	KindProtocol

	// KindTransport means the engine could not be reached.
	KindTransport

	// KindCircuitOpen means the call was rejected locally because the
	// backend's circuit breaker is open.
	KindCircuitOpen
)

// String returns the kind label used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindHTTPStatus:
		return "http_status"
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	case KindCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// CallError is returned by [Adapter.Generate] (and used internally by the
// other operations) when a call to an engine fails.
type CallError struct {
	Backend    string
	Op         string
	Kind       ErrorKind
	StatusCode int    // set for KindHTTPStatus
	Detail     string // engine-provided message, if any
	Err        error
}

func (e *CallError) Error() string {
	msg := e.Backend + ": " + e.Op + ": "
	switch e.Kind {
	case KindHTTPStatus:
		msg += "HTTP " + strconv.Itoa(e.StatusCode)
	default:
		msg += e.Kind.String()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CallError) Unwrap() error { return e.Err }

// EngineFault reports whether the failure points at the engine itself rather
// than at the request. Client-side HTTP errors (4xx) are not engine faults.
func (e *CallError) EngineFault() bool {
	switch e.Kind {
	case KindTimeout, KindTransport:
		return true
	case KindHTTPStatus:
		return e.StatusCode >= 500
	}
	return false
}

// Classify wraps a transport-level error from an outbound call as a
// *CallError with the matching kind.
func Classify(backendID, op string, err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	kind := KindTransport
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = KindTimeout
	}
	return &CallError{Backend: backendID, Op: op, Kind: kind, Err: err}
}

// StatusError builds a KindHTTPStatus error.
func StatusError(backendID, op string, code int, detail string) *CallError {
	return &CallError{Backend: backendID, Op: op, Kind: KindHTTPStatus, StatusCode: code, Detail: detail}
}

// ProtocolError builds a KindProtocol error.
func ProtocolError(backendID, op, format string, args ...any) *CallError {
	return &CallError{Backend: backendID, Op: op, Kind: KindProtocol, Detail: fmt.Sprintf(format, args...)}
}

// FailedUpload builds an unsuccessful [UploadResult] for err. The message
// names the backend and the failure class only; engine URLs and response
// bodies stay in Err.
func FailedUpload(backendID string, err error) UploadResult {
	msg := "upload to " + backendID + " failed"
	var ce *CallError
	if errors.As(err, &ce) {
		if ce.Kind == KindHTTPStatus {
			msg += ": HTTP " + strconv.Itoa(ce.StatusCode)
		} else {
			msg += ": " + ce.Kind.String()
		}
	}
	return UploadResult{Message: msg, Err: err}
}

// Package apperrors defines the typed error kinds surfaced by the registry.
// Errors are plain values propagated explicitly; handlers map kinds to HTTP
// status codes and the service layer decides which kinds are retryable.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a stable error category. The string form is part of the
// API contract and matches the request's audit event.
type Kind string

const (
	KindBadRequest       Kind = "bad_request"
	KindUnauthenticated  Kind = "unauthenticated"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindTransientBackend Kind = "transient_backend_error"
	KindBackendData      Kind = "backend_data_error"
	KindScanTimeout      Kind = "scan_timeout"
	KindPeerUnreachable  Kind = "peer_unreachable"
	KindBackpressure     Kind = "backpressure"
	KindInternal         Kind = "internal"
)

// Error is a typed error value carrying a kind plus optional detail fields.
type Error struct {
	Kind    Kind
	Message string
	// Fields carries structured detail, e.g. the violated field name for
	// bad_request or required_permission for forbidden.
	Fields map[string]string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is allows errors.Is matching against another *Error by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a typed error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a typed error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithField returns a copy of the error with an extra detail field set.
func (e *Error) WithField(key, value string) *Error {
	out := *e
	out.Fields = make(map[string]string, len(e.Fields)+1)
	for k, v := range e.Fields {
		out.Fields[k] = v
	}
	out.Fields[key] = value
	return &out
}

// Sentinel values for errors.Is checks at call sites.
var (
	ErrBadRequest       = New(KindBadRequest, "bad request")
	ErrUnauthenticated  = New(KindUnauthenticated, "unauthenticated")
	ErrForbidden        = New(KindForbidden, "forbidden")
	ErrNotFound         = New(KindNotFound, "not found")
	ErrConflict         = New(KindConflict, "conflict")
	ErrTransientBackend = New(KindTransientBackend, "transient backend error")
	ErrBackendData      = New(KindBackendData, "backend data error")
	ErrScanTimeout      = New(KindScanTimeout, "scan timed out")
	ErrPeerUnreachable  = New(KindPeerUnreachable, "peer unreachable")
	ErrBackpressure     = New(KindBackpressure, "connection pool exhausted")
)

// KindOf extracts the kind from an error chain, defaulting to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// FieldsOf extracts the detail fields from an error chain, if any.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// HTTPStatus maps an error kind to its HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBackpressure:
		return http.StatusServiceUnavailable
	case KindTransientBackend, KindPeerUnreachable:
		return http.StatusBadGateway
	case KindScanTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// IsTransient reports whether the error should be retried with backoff.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransientBackend
}

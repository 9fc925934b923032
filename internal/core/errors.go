package core

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrorKind classifies a request failure.
type ErrorKind string

const (
	// KindNetwork covers connection refused, DNS and TLS failures.
	KindNetwork ErrorKind = "network_error"
	// KindHTTP covers non-2xx responses.
	KindHTTP ErrorKind = "http_error"
	// KindTimeout covers requests aborted by the configured deadline.
	KindTimeout ErrorKind = "timeout_error"
	// KindDecode covers malformed response bodies.
	KindDecode ErrorKind = "decode_error"
)

// RequestError is the error type for all failures surfaced by the client.
// User cancellation is deliberately not represented here: context.Canceled
// is propagated verbatim so callers can tell an intentional abort apart
// from a failure.
type RequestError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Kind == KindHTTP && e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the error unwrapping interface.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// NewNetworkError wraps a transport-level failure.
func NewNetworkError(message string, err error) *RequestError {
	return &RequestError{Kind: KindNetwork, Message: message, Err: err}
}

// NewTimeoutError reports a request aborted by its deadline.
func NewTimeoutError(message string, err error) *RequestError {
	return &RequestError{Kind: KindTimeout, Message: message, Err: err}
}

// NewDecodeError reports a malformed response body.
func NewDecodeError(message string, err error) *RequestError {
	return &RequestError{Kind: KindDecode, Message: message, Err: err}
}

// NewHTTPError reports a non-2xx response with an already-extracted message.
func NewHTTPError(statusCode int, message string) *RequestError {
	return &RequestError{Kind: KindHTTP, StatusCode: statusCode, Message: message}
}

// ParseServerError builds an HTTP error from a non-2xx response body,
// preferring the most specific message the server provided:
// error.message, then error (when it is a plain string), then the raw body.
func ParseServerError(statusCode int, body []byte) *RequestError {
	message := strings.TrimSpace(string(body))
	if m := gjson.GetBytes(body, "error.message"); m.Type == gjson.String && m.Str != "" {
		message = m.Str
	} else if m := gjson.GetBytes(body, "error"); m.Type == gjson.String && m.Str != "" {
		message = m.Str
	}
	if message == "" {
		message = "request failed"
	}
	return NewHTTPError(statusCode, message)
}

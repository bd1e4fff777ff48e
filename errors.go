package gateway

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Kind identifies where an Error was raised.
type Kind int

const (
	// KindRoute marks errors raised while matching a request to a handler
	// (endpoint not found, method not allowed).
	KindRoute Kind = iota

	// KindConfig marks errors caused by a malformed Config or handler tree:
	// conflicting filesystem entries, import failures, invalid options.
	// Config errors always carry code 500 and key "router-config".
	KindConfig

	// KindRequest marks errors a hook or handler raised on purpose to end the
	// request with a specific status.
	KindRequest
)

// Well-known error keys.
const (
	KeyRouterConfig = "router-config"
	KeyURL          = "url"
	KeyMethod       = "method"
	KeyServer       = "server"
)

// Error is a structured failure that renders directly into a Response.
//
// Code is the HTTP status, Key names the offending field or subsystem, and
// Message is the human-readable text placed in the error body.
type Error struct {
	Code    int
	Key     string
	Message string
	Kind    Kind
	cause   error
}

// NewError returns an Error a hook or handler can return to end the request
// with the given status. When no onError hook is registered the router
// renders it as-is instead of falling back to a generic 500.
func NewError(code int, key, message string) *Error {
	return &Error{Code: code, Key: key, Message: message, Kind: KindRequest}
}

// ConfigError returns a KindConfig error with code 500 and key "router-config".
func ConfigError(message string) *Error {
	return &Error{Code: 500, Key: KeyRouterConfig, Message: message, Kind: KindConfig}
}

// RouteError returns a KindRoute error.
func RouteError(code int, key, message string) *Error {
	return &Error{Code: code, Key: key, Message: message, Kind: KindRoute}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Code, e.Key, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same code and key.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Key == t.Key
}

// wrap attaches cause to a copy of e.
func (e *Error) wrap(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

// Sentinel errors for errors.Is comparisons.
var (
	// ErrNotFound matches the 404 produced when no handler module exists for a route.
	ErrNotFound = RouteError(404, KeyURL, "endpoint not found")

	// ErrMethodNotAllowed matches the 403 produced when the module omits the verb.
	ErrMethodNotAllowed = RouteError(403, KeyMethod, "method not allowed")

	// ErrInternal matches the generic 500 used when a failure has no onError override.
	ErrInternal = &Error{Code: 500, Key: KeyServer, Message: "internal server error", Kind: KindRequest}
)

func errNotFound() *Error         { return RouteError(404, KeyURL, "endpoint not found") }
func errMethodNotAllowed() *Error { return RouteError(403, KeyMethod, "method not allowed") }
func errInternal() *Error {
	return &Error{Code: 500, Key: KeyServer, Message: "internal server error", Kind: KindRequest}
}

func errFileDirectoryConflict() *Error {
	return ConfigError("file & directory cant share name in the same directory")
}

func errMultiplePathParameters() *Error {
	return ConfigError("cant have path parameter file & directory in the same directory")
}

func errImport(path string, cause error) *Error {
	return ConfigError(fmt.Sprintf("Import Error %s: %s", path, cause)).wrap(cause)
}

// panicError wraps a value recovered from a panicking hook or handler.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

// Unwrap returns the panic value when it was an error.
func (e *panicError) Unwrap() error {
	if err, ok := e.value.(error); ok {
		return err
	}
	return nil
}

func newPanicError(v any) *panicError {
	return &panicError{value: v, stack: debug.Stack()}
}

// asError extracts an *Error from err's chain.
func asError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

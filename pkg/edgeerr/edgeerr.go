// Package edgeerr defines the errors the edge layer surfaces to its callers.
//
// Every error carries a Kind, which is enough to render a status code,
// and optional context for logging. Errors match their kind with errors.Is:
//
//	if errors.Is(err, edgeerr.ErrMethodNotAllowed) { ... }
//
// and expose their structure with errors.As:
//
//	var e *edgeerr.Error
//	if errors.As(err, &e) { allow := e.Allowed }
package edgeerr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

type Kind string

const (
	// The routing table is ambiguous. Only returned while building a table.
	KindConfigurationConflict Kind = "configuration-conflict"
	// A configuration object violates one of its invariants.
	KindInvalidConfiguration Kind = "invalid-configuration"
	// The resolved rule does not accept the request method.
	KindMethodNotAllowed Kind = "method-not-allowed"
	// The origin could not be reached (network failure, cancelled dial...).
	KindOriginUnreachable Kind = "origin-unreachable"
	// The origin answered with a failure.
	KindOriginError Kind = "origin-error"
	// The static store has no object at the requested path.
	KindOriginNotFound Kind = "origin-not-found"
	// The request path does not carry the prefix the origin expects to strip.
	KindPathTransformMismatch Kind = "path-transform-mismatch"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrConfigurationConflict = &Error{Kind: KindConfigurationConflict}
	ErrInvalidConfiguration  = &Error{Kind: KindInvalidConfiguration}
	ErrMethodNotAllowed      = &Error{Kind: KindMethodNotAllowed}
	ErrOriginUnreachable     = &Error{Kind: KindOriginUnreachable}
	ErrOriginError           = &Error{Kind: KindOriginError}
	ErrOriginNotFound        = &Error{Kind: KindOriginNotFound}
	ErrPathTransformMismatch = &Error{Kind: KindPathTransformMismatch}
)

type Error struct {
	Kind    Kind
	Message string
	// Key/value pairs describing where the error happened (rule, origin, path...).
	Context map[string]string
	// Allowed methods of the matched rule. Set for KindMethodNotAllowed only.
	Allowed []string
	// Status reported by the origin, if any.
	OriginStatus int
	Err          error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%q", k, e.Context[k])
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// With returns a copy of the error with the given context pair added.
func (e *Error) With(key, value string) *Error {
	c := *e
	c.Context = make(map[string]string, len(e.Context)+1)
	for k, v := range e.Context {
		c.Context[k] = v
	}
	c.Context[key] = value
	return &c
}

// New creates an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a lower level error.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// MethodNotAllowed creates the error returned when a rule rejects a method.
func MethodNotAllowed(method string, allowed []string) *Error {
	return &Error{
		Kind:    KindMethodNotAllowed,
		Message: fmt.Sprintf("method %s not allowed", method),
		Allowed: append([]string(nil), allowed...),
	}
}

// KindOf returns the kind of the first *Error in the chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Status maps an error to the HTTP status a viewer should receive.
func Status(err error) int {
	switch KindOf(err) {
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindOriginNotFound:
		return http.StatusNotFound
	case KindOriginUnreachable, KindOriginError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Fatal reports whether the error points at a broken configuration
// rather than at the request or the origin.
func Fatal(err error) bool {
	switch KindOf(err) {
	case KindConfigurationConflict, KindInvalidConfiguration, KindPathTransformMismatch:
		return true
	}
	return false
}

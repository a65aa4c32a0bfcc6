// Package errs defines the error taxonomy shared by the lifecycle core, its
// reactors and the HTTP layer.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind string

const (
	NotFound            Kind = "NotFound"
	NotAuthorized       Kind = "NotAuthorized"
	InvalidTransition   Kind = "InvalidTransition"
	SafetyCheckRequired Kind = "SafetyCheckRequired"
	ConflictingUpdate   Kind = "ConflictingUpdate"
	DownstreamDegraded  Kind = "DownstreamDegraded"
	Invalid             Kind = "Invalid"
)

// Error carries a Kind plus optional context.
type Error struct {
	Kind    Kind
	Msg     string
	RouteID string
	Err     error
}

// Sentinels usable with errors.Is. Matching is by Kind.
var (
	ErrNotFound      = &Error{Kind: NotFound}
	ErrNotAuthorized = &Error{Kind: NotAuthorized}
	ErrConflict      = &Error{Kind: ConflictingUpdate}
)

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// E builds an error of the given kind with a formatted message.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// SafetyRequired reports a missing start-of-day check for routeID.
func SafetyRequired(routeID string) *Error {
	return &Error{Kind: SafetyCheckRequired, Msg: "safety check required", RouteID: routeID}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// RouteIDOf returns the route attached to a SafetyCheckRequired error.
func RouteIDOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.RouteID
	}
	return ""
}

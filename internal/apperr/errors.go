// Package apperr defines the error-kind taxonomy shared by the Registry
// Store, MCP Tool Surface, Spec Compiler, and Redesign Engine (spec §7).
//
// Errors are classified by Kind rather than by Go type, matching how the
// MCP error frame surfaces them verbatim to the agent subprocess
// (§4.3): the kind string IS the wire-level error code.
package apperr

import "errors"

// Kind is one of the error kinds enumerated in spec.md §7.
type Kind string

const (
	NotFound           Kind = "not_found"
	Conflict           Kind = "conflict"
	InvariantViolation Kind = "invariant_violation"
	Cancelled          Kind = "cancelled"
	Unauthorized       Kind = "unauthorized"
	Timeout            Kind = "timeout"
	Stalled            Kind = "stalled"
	ExtractionFailed   Kind = "extraction_failed"
	UnresolvedConflict Kind = "unresolved_conflict"
	MappingIncomplete  Kind = "mapping_incomplete"
	Internal           Kind = "internal"
)

// Error wraps an underlying cause with a Kind for dispatch by callers
// (Registry callers map Kind to the MCP error frame's "code" field).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of err, or Internal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Package xerrors carries the pipeline's failure taxonomy: every error a
// stage handler produces is one of three kinds, and routing decisions
// switch on Kind rather than inspecting error strings.
package xerrors

import (
	"fmt"
	"time"
)

// Kind classifies an error by how the pipeline should react to it.
type Kind string

const (
	// KindMissing means the target entry no longer exists (ENOENT,
	// ESTALE, or catalog miss where a miss is expected). It is not
	// logged as a failure: journal-sourced operations route to
	// JOURNAL_ACK so the record is still acknowledged; scan-sourced
	// operations are simply dropped.
	KindMissing Kind = "missing"

	// KindTransient means the operation can be retried: a temporarily
	// unavailable catalog or broker, a timed-out probe. The pipeline
	// drains past it rather than wedging, per the "drain, do not wedge"
	// principle, but logs it at a level an operator should notice.
	KindTransient Kind = "transient"

	// KindFatal means the error indicates a programming or
	// configuration defect (e.g. an invalid stage transition, a
	// read-only field written by a handler). These are logged at
	// critical severity.
	KindFatal Kind = "fatal"
)

// Error is the pipeline's standard error type: a Kind, the
// component/operation that raised it, and an optional wrapped cause.
type Error struct {
	Kind      Kind
	Component string
	Operation string
	Message   string
	Cause     error
	At        time.Time
}

func New(kind Kind, component, operation, message string) *Error {
	return &Error{
		Kind:      kind,
		Component: component,
		Operation: operation,
		Message:   message,
		At:        time.Now(),
	}
}

func Missing(component, operation, message string) *Error {
	return New(KindMissing, component, operation, message)
}

func Transient(component, operation, message string) *Error {
	return New(KindTransient, component, operation, message)
}

func Fatal(component, operation, message string) *Error {
	return New(KindFatal, component, operation, message)
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Operation, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Wrap(cause error) *Error {
	e.Cause = cause
	return e
}

// Is reports whether err is an *Error of the given kind. Used at stage
// routing points instead of string matching.
func Is(err error, kind Kind) bool {
	xe, ok := err.(*Error)
	return ok && xe.Kind == kind
}

// KindOf returns the Kind of err, or KindFatal if err is not a pipeline
// *Error — an unrecognized error is treated conservatively as fatal
// rather than silently swallowed.
func KindOf(err error) Kind {
	if xe, ok := err.(*Error); ok {
		return xe.Kind
	}
	return KindFatal
}

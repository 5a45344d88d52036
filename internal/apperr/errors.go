// Package apperr defines the closed set of error kinds the service deals in.
// Core components return these; the HTTP boundary maps them to status codes.
// Nothing below the boundary knows about HTTP.
package apperr

import (
	"errors"
	"fmt"
)

// Kind partitions every failure the service can surface.
type Kind int

const (
	// KindValidation: missing or malformed caller input.
	KindValidation Kind = iota
	// KindNotFound: the referenced thread/customer/company does not exist.
	KindNotFound
	// KindConflict: a uniqueness violation the directory is designed to
	// prevent. Occurrence is a defect worth logging loudly.
	KindConflict
	// KindUpstream: the generator or a channel delivery failed. Recoverable;
	// already-persisted state stands.
	KindUpstream
	// KindStorage: the database is unavailable or rejected the operation.
	// Fatal for the request, never for the process.
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	case KindStorage:
		return "storage"
	}
	return "unknown"
}

// Error carries a kind, the operation that failed, and an optional cause.
// Op reads like "thread.FindOrCreate" or "message.Append" so logs locate the
// failure without a stack trace.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports malformed caller input.
func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

// NotFound reports a missing entity.
func NotFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

// Conflict reports a uniqueness race that should not happen.
func Conflict(op string, err error) *Error {
	return &Error{Kind: KindConflict, Op: op, Err: err}
}

// Upstream wraps a generator or channel-delivery failure.
func Upstream(op string, err error) *Error {
	return &Error{Kind: KindUpstream, Op: op, Err: err}
}

// Storage wraps a database failure.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// KindOf extracts the Kind from err, unwrapping as needed. Unrecognized
// errors report as KindStorage so they map to a generic 500.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

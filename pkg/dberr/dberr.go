// Package dberr defines the error taxonomy shared by the blockstore,
// btree, and archive packages.
package dberr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind distinguishes the broad categories of failure the engine can
// surface to a caller.
type Kind int

const (
	// KindFormat indicates a magic mismatch or other structural
	// signature failure. Fatal for the affected open.
	KindFormat Kind = iota
	// KindCorruption indicates a block's on-disk contents failed an
	// internal consistency check (missing continuation, wrong magic
	// mid-chain, out-of-range pointer).
	KindCorruption
	// KindIO wraps an error from the underlying file.
	KindIO
	// KindInvalidArgument indicates a wrong-length key, a negative
	// amount where a positive one is required, or an out-of-range slice.
	KindInvalidArgument
	// KindInvalidState indicates a setter called on an open database, or
	// an operation called on a closed one.
	KindInvalidState
	// KindNotFound indicates a path absent from a packed archive.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "format"
	case KindCorruption:
		return "corruption"
	case KindIO:
		return "io"
	case KindInvalidArgument:
		return "invalid argument"
	case KindInvalidState:
		return "invalid state"
	case KindNotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by this module. Callers that
// need to distinguish kinds should use errors.As against *Error and
// inspect Kind, or the Is helper below.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Unwrap exposes the wrapped error, if any, for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.err }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Format builds a new *Error of KindFormat.
func Format(format string, args ...any) *Error { return newf(KindFormat, format, args...) }

// Corruption builds a new *Error of KindCorruption.
func Corruption(format string, args ...any) *Error { return newf(KindCorruption, format, args...) }

// InvalidArgument builds a new *Error of KindInvalidArgument.
func InvalidArgument(format string, args ...any) *Error {
	return newf(KindInvalidArgument, format, args...)
}

// InvalidState builds a new *Error of KindInvalidState.
func InvalidState(format string, args ...any) *Error {
	return newf(KindInvalidState, format, args...)
}

// NotFound builds a new *Error of KindNotFound.
func NotFound(format string, args ...any) *Error { return newf(KindNotFound, format, args...) }

// IO wraps err (typically from the os/io packages) as a KindIO error with
// additional call-site context, using github.com/pkg/errors to preserve a
// stack trace at the wrap site.
func IO(err error, context string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindIO, msg: context, err: errors.Wrap(err, context)}
}

// Wrap adds context to err while preserving its Kind if err is (or wraps)
// an *Error; otherwise it wraps err as a KindIO error.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Kind: e.Kind, msg: context, err: errors.Wrap(err, context)}
	}
	return IO(err, context)
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

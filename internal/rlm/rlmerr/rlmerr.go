// Package rlmerr defines the error taxonomy shared across the RLM engine.
package rlmerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by its recovery behavior.
type Kind string

const (
	KindConfig              Kind = "config"
	KindInvalidInput         Kind = "invalid_input"
	KindREPLTimeout          Kind = "repl_timeout"
	KindREPLNonZeroExit      Kind = "repl_nonzero_exit"
	KindUnsupportedLanguage  Kind = "unsupported_language"
	KindNoDeviceAvailable    Kind = "no_device_available"
	KindTransport            Kind = "transport"
	KindBatchPartial         Kind = "batch_partial"
	KindContextOverflow      Kind = "context_overflow"
	KindCancelled            Kind = "cancelled"
	KindInternal             Kind = "internal"
)

// Error is the engine-wide error type. It carries a Kind so callers can
// branch on recovery behavior with errors.As, plus the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, rlmerr.New(KindX, "")) to match on Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs an Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an Error wrapping an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// OfKind reports whether err (or any error it wraps) carries the given Kind.
func OfKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

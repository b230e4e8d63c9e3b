// Package apperr defines the error taxonomy shared by the dispatch engine and
// its request-response surface.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindNotFound           Kind = "not_found"
	KindForbidden          Kind = "forbidden"
	KindStateConflict      Kind = "state_conflict"
	KindExhausted          Kind = "exhausted"
	KindHardLimitExceeded  Kind = "hard_limit_exceeded"
	KindNotificationFailed Kind = "notification_failed"
	KindInternal           Kind = "internal"
)

// Sentinels usable with errors.Is. Any *Error of the same kind matches.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrStateConflict      = &Error{Kind: KindStateConflict}
	ErrExhausted          = &Error{Kind: KindExhausted}
	ErrHardLimitExceeded  = &Error{Kind: KindHardLimitExceeded}
	ErrNotificationFailed = &Error{Kind: KindNotificationFailed}
)

// Error carries a Kind alongside the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, format, args...)
}

func NotFound(op, format string, args ...any) *Error {
	return New(KindNotFound, op, format, args...)
}

func Forbidden(op, format string, args ...any) *Error {
	return New(KindForbidden, op, format, args...)
}

func Conflict(op, format string, args ...any) *Error {
	return New(KindStateConflict, op, format, args...)
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

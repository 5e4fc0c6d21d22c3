// Package apperr defines the error taxonomy shared by the pipeline components
// and the HTTP layer.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	NotFound          Kind = "not_found"
	Conflict          Kind = "conflict"
	InvalidTransition Kind = "invalid_transition"
	ExternalTimeout   Kind = "external_timeout"
	ExternalFailure   Kind = "external_failure"
	ValidationFailure Kind = "validation_failure"
	StorageFailure    Kind = "storage_failure"
	Unauthorized      Kind = "unauthorized"
)

// Error carries a Kind alongside a human readable message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Sentinels for errors.Is checks by kind.
var (
	ErrNotFound          = &Error{Kind: NotFound}
	ErrConflict          = &Error{Kind: Conflict}
	ErrInvalidTransition = &Error{Kind: InvalidTransition}
	ErrExternalTimeout   = &Error{Kind: ExternalTimeout}
	ErrExternalFailure   = &Error{Kind: ExternalFailure}
	ErrValidation        = &Error{Kind: ValidationFailure}
	ErrStorage           = &Error{Kind: StorageFailure}
	ErrUnauthorized      = &Error{Kind: Unauthorized}
)

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors (no message, no cause) of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err. Context deadlines count as external timeouts;
// anything unclassified is reported as a storage failure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ExternalTimeout
	}
	return StorageFailure
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

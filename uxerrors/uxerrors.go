// Package uxerrors defines the error taxonomy shared by every uxfs
// component. Every operation that can fail returns one of the sentinel
// errors declared here, optionally wrapped with additional context via
// WithMessage or Wrap.
package uxerrors

import (
	"errors"
	"fmt"
)

// UxError is a sentinel error code. The string value is the default,
// human-readable message used when no further context is attached.
type UxError string

// Sentinel error codes. Success has no sentinel: a nil error means
// success everywhere in this module.
const (
	ErrGeneric    = UxError("generic filesystem error")
	ErrNotFound   = UxError("no such file or directory")
	ErrExists     = UxError("file exists")
	ErrNoSpace    = UxError("no space left on device")
	ErrInvalid    = UxError("invalid argument")
	ErrIO         = UxError("input/output error")
	ErrPermission = UxError("permission denied")
)

func (e UxError) Error() string {
	return string(e)
}

// WithMessage returns a DriverError carrying e as its underlying sentinel
// and message as additional, human-readable context.
func (e UxError) WithMessage(message string) DriverError {
	return contextError{
		message: fmt.Sprintf("%s: %s", string(e), message),
		parent:  e,
	}
}

// Wrap returns a DriverError carrying e as its underlying sentinel and the
// given error's message appended as context. errors.Is matches both e and
// err.
func (e UxError) Wrap(err error) DriverError {
	if err == nil {
		return contextError{message: string(e), parent: e}
	}
	return contextError{
		message: fmt.Sprintf("%s: %s", string(e), err.Error()),
		parent:  e,
		cause:   err,
	}
}

// DriverError is the error type returned by every uxfs operation. It is
// always compatible with errors.Is against the UxError sentinel it was
// built from, and with errors.As.
type DriverError interface {
	error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
	Unwrap() error
}

type contextError struct {
	message string
	parent  error
	cause   error
}

func (e contextError) Error() string {
	return e.message
}

func (e contextError) WithMessage(message string) DriverError {
	return contextError{
		message: fmt.Sprintf("%s: %s", e.message, message),
		parent:  e,
	}
}

func (e contextError) Wrap(err error) DriverError {
	return contextError{
		message: fmt.Sprintf("%s: %s", e.message, err.Error()),
		parent:  e,
		cause:   err,
	}
}

func (e contextError) Unwrap() error {
	return e.parent
}

// Is reports whether target matches the error given to Wrap; the sentinel
// itself is reached through Unwrap.
func (e contextError) Is(target error) bool {
	return e.cause != nil && errors.Is(e.cause, target)
}

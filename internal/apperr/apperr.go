// Package apperr defines the tagged error type returned across every public
// boundary of the blog core.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can pick an appropriate response.
type Kind string

const (
	// KindAuth marks credential or provider rejections.
	KindAuth Kind = "auth_error"
	// KindNotFound marks a referenced document that does not exist.
	KindNotFound Kind = "not_found"
	// KindUnauthorized marks an authenticated caller without sufficient rights.
	KindUnauthorized Kind = "unauthorized"
	// KindForbidden marks an action that is structurally disallowed.
	KindForbidden Kind = "forbidden"
	// KindInvalid marks rejected input.
	KindInvalid Kind = "invalid"
	// KindBackend marks a transport or backend fault.
	KindBackend Kind = "backend_error"
)

// Sentinels for use with errors.Is. They match any *Error of the same kind.
var (
	ErrAuth         = &Error{kind: KindAuth}
	ErrNotFound     = &Error{kind: KindNotFound}
	ErrUnauthorized = &Error{kind: KindUnauthorized}
	ErrForbidden    = &Error{kind: KindForbidden}
	ErrInvalid      = &Error{kind: KindInvalid}
	ErrBackend      = &Error{kind: KindBackend}
)

// Error is a failure tagged with a Kind and an "<operation>.<reason>" code.
type Error struct {
	kind    Kind
	code    string
	message string
	err     error
}

// New builds an Error for the provided operation and reason.
func New(kind Kind, operation, reason, message string, cause error) *Error {
	return &Error{
		kind:    kind,
		code:    fmt.Sprintf("%s.%s", operation, reason),
		message: message,
		err:     cause,
	}
}

// Backend wraps a backend fault, passing its message through.
func Backend(operation, reason string, cause error) *Error {
	message := "backend error"
	if cause != nil {
		message = cause.Error()
	}
	return New(KindBackend, operation, reason, message, cause)
}

func (e *Error) Error() string {
	if e.message == "" {
		if e.err == nil {
			return e.code
		}
		return fmt.Sprintf("%s: %v", e.code, e.err)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.code == "" && other.kind == e.kind
}

// Kind returns the failure classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code returns the "<operation>.<reason>" code.
func (e *Error) Code() string {
	return e.code
}

// Message returns the human readable message.
func (e *Error) Message() string {
	if e.message != "" {
		return e.message
	}
	if e.err != nil {
		return e.err.Error()
	}
	return string(e.kind)
}

// KindOf returns the kind of err. Untagged errors count as backend faults.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.kind
	}
	return KindBackend
}

// Is reports whether err carries the provided kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the human readable message carried by err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Message()
	}
	return err.Error()
}

// CodeOf returns the code carried by err, or an empty string.
func CodeOf(err error) string {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.code
	}
	return ""
}

package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so outer layers (HTTP, CLI) can react to them
// without matching on message text.
type ErrorKind string

const (
	ErrNotFound     ErrorKind = "not_found"
	ErrInvalidInput ErrorKind = "invalid_input"
	ErrStorage      ErrorKind = "storage"
	ErrUpstream     ErrorKind = "upstream"
	ErrParse        ErrorKind = "parse"
)

// Error is the application error type.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an Error without an underlying cause.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to cause. A nil cause yields nil.
func Wrap(kind ErrorKind, msg string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// KindOf reports the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

package challenge

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Match with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
)

// ErrNoConnection is returned by activity sources for users without a linked provider account
var ErrNoConnection = errors.New("no linked provider connection")

// Error carries a kind and a human readable message
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validationf returns an ErrValidation error
func Validationf(format string, args ...any) error {
	return newError(ErrValidation, format, args...)
}

// Conflictf returns an ErrConflict error
func Conflictf(format string, args ...any) error {
	return newError(ErrConflict, format, args...)
}

// NotFoundf returns an ErrNotFound error
func NotFoundf(format string, args ...any) error {
	return newError(ErrNotFound, format, args...)
}

// Forbiddenf returns an ErrForbidden error
func Forbiddenf(format string, args ...any) error {
	return newError(ErrForbidden, format, args...)
}

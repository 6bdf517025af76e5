package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used across layers.
var (
	ErrNotFound             = errors.New("not found")
	ErrLineUnavailable      = errors.New("microphone line unavailable")
	ErrUnsupportedDirective = errors.New("no device side component to handle the directive")
	ErrNotConnected         = errors.New("transport not connected")
	ErrHandlerPanic         = errors.New("directive handler panicked")
	ErrUnsupportedLocale    = errors.New("unsupported locale")
)

// ExceptionType is the error classification reported upstream in
// System.ExceptionEncountered.
type ExceptionType string

const (
	ExceptionUnexpectedInformation ExceptionType = "UNEXPECTED_INFORMATION_RECEIVED"
	ExceptionUnsupportedOperation  ExceptionType = "UNSUPPORTED_OPERATION"
	ExceptionInternalError         ExceptionType = "INTERNAL_ERROR"
)

// DirectiveError is a typed handler failure. The router reports it with
// its own classification and does not propagate it.
type DirectiveError struct {
	Type    ExceptionType
	Message string
	Err     error
}

// NewDirectiveError builds a typed failure.
func NewDirectiveError(t ExceptionType, format string, args ...any) *DirectiveError {
	return &DirectiveError{Type: t, Message: fmt.Sprintf(format, args...)}
}

func (e *DirectiveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DirectiveError) Unwrap() error {
	return e.Err
}

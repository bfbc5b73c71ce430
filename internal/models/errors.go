package models

import (
	"errors"
	"fmt"
)

// ErrorType identifies the category of error that occurred.
type ErrorType string

const (
	// Bad input rejected before any network call
	ErrValidationType ErrorType = "validation_error"

	// Network or non-2xx response from the engine
	ErrTransportType ErrorType = "transport_error"

	// Remote history could not be read
	ErrStaleReadType ErrorType = "stale_read"

	// Trial classified Invalid by the validator
	ErrDomainInvalidType ErrorType = "domain_invalid"

	// Live slot mutation while another is pending
	ErrConflictType ErrorType = "conflict"

	// Mutating call issued without operator confirmation
	ErrNotConfirmedType ErrorType = "not_confirmed"

	// Catch-all
	ErrInternalType ErrorType = "internal_error"
)

// Sentinels for errors.Is matching on the error category.
var (
	ErrValidation    = &Error{Type: ErrValidationType}
	ErrTransport     = &Error{Type: ErrTransportType}
	ErrStaleRead     = &Error{Type: ErrStaleReadType}
	ErrDomainInvalid = &Error{Type: ErrDomainInvalidType}
	ErrConflict      = &Error{Type: ErrConflictType}
	ErrNotConfirmed  = &Error{Type: ErrNotConfirmedType}
)

// Error is the error type surfaced by every orchestration component.
type Error struct {
	Type    ErrorType `json:"type"`
	Job     string    `json:"job,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Type)
	}
	if e.Job != "" {
		msg = e.Job + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Type.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type
}

// NewError builds an *Error of the given type.
func NewError(typ ErrorType, job, message string, err error) *Error {
	return &Error{Type: typ, Job: job, Message: message, Err: err}
}

// Validationf returns a validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Type: ErrValidationType, Message: fmt.Sprintf(format, args...)}
}

// TypeOf returns the ErrorType carried by err, or ErrInternalType.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrInternalType
}

package booking

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies conversion failures for callers and metrics.
type Code string

const (
	CodeValidation    Code = "VALIDATION"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeNotFound      Code = "NOT_FOUND"
	CodePersistence   Code = "PERSISTENCE_FAILURE"
	CodeInternal      Code = "INTERNAL"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrStateConflict = errors.New("state conflict")
	ErrValidation    = errors.New("validation failed")
	ErrPersistence   = errors.New("persistence failure")
)

// Error is the structured error returned by the service layer.
type Error struct {
	Code          Code
	Message       string
	CorrelationID string
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel for the error's code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == CodeNotFound
	case ErrStateConflict:
		return e.Code == CodeStateConflict
	case ErrValidation:
		return e.Code == CodeValidation
	case ErrPersistence:
		return e.Code == CodePersistence
	}
	return false
}

// ErrorCode satisfies the observability and HTTP classifiers.
func (e *Error) ErrorCode() string { return string(e.Code) }

// ErrorMessage is the caller-safe description.
func (e *Error) ErrorMessage() string { return e.Message }

// ErrorCorrelationID links the error to its operation log entry.
func (e *Error) ErrorCorrelationID() string { return e.CorrelationID }

// CodeOf classifies any error returned by this package.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrStateConflict):
		return CodeStateConflict
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	default:
		return CodeInternal
	}
}

func newError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// classify turns an arbitrary error into *Error, keeping an existing one.
func classify(err error, correlationID string) *Error {
	var be *Error
	if errors.As(err, &be) {
		if be.CorrelationID == "" {
			be.CorrelationID = correlationID
		}
		return be
	}
	code := CodeOf(err)
	msg := "conversion failed"
	switch code {
	case CodeValidation:
		msg = "invalid conversion request"
	case CodeStateConflict:
		msg = "quote cannot be converted in its current state"
	case CodeNotFound:
		msg = "quote not found"
	case CodePersistence:
		msg = "booking could not be saved"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		msg = "conversion did not complete in time"
	}
	return &Error{Code: code, Message: msg, CorrelationID: correlationID, Err: err}
}

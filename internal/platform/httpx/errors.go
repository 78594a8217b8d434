package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for transport-level failures.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
)

// CodedError is implemented by domain errors that carry a taxonomy code.
type CodedError interface {
	error
	ErrorCode() string
	ErrorMessage() string
	ErrorCorrelationID() string
}

// StatusForCode maps a domain error code onto an HTTP status.
func StatusForCode(code string) int {
	switch code {
	case "VALIDATION":
		return http.StatusBadRequest
	case "NOT_FOUND":
		return http.StatusNotFound
	case "STATE_CONFLICT":
		return http.StatusConflict
	case "PERSISTENCE_FAILURE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var coded CodedError
	if errors.As(err, &coded) {
		status := StatusForCode(coded.ErrorCode())
		WriteProblem(w, ProblemDetail{
			Status:        status,
			Title:         http.StatusText(status),
			Detail:        coded.ErrorMessage(),
			Code:          coded.ErrorCode(),
			CorrelationID: coded.ErrorCorrelationID(),
		})
		return
	}
	switch {
	case errors.Is(err, ErrNotFound):
		WriteProblem(w, ProblemDetail{Status: http.StatusNotFound, Detail: err.Error(), Code: "NOT_FOUND"})
	case errors.Is(err, ErrValidation):
		WriteProblem(w, ProblemDetail{Status: http.StatusBadRequest, Title: "Validation Failed", Detail: err.Error(), Code: "VALIDATION"})
	case errors.Is(err, ErrUnauthorized):
		WriteProblem(w, ProblemDetail{Status: http.StatusUnauthorized, Detail: err.Error()})
	default:
		WriteProblem(w, ProblemDetail{Status: http.StatusInternalServerError, Title: "Internal Error", Code: "INTERNAL"})
	}
}

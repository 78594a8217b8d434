// Package oplog records correlation-tracked business operations: structured
// log lines, a bounded in-memory metrics window and best-effort persistence
// to an audit sink.
package oplog

import (
	"errors"
	"time"
)

// Operation describes the unit of work being tracked.
type Operation struct {
	Kind     string
	EntityID string
	AgentID  string
	ClientID string
	// Payload is hashed, never stored.
	Payload any
}

// ErrorInfo is the caller-safe error descriptor attached to failed operations.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OperationLog is an append-only record of a completed operation.
type OperationLog struct {
	CorrelationID string         `json:"correlation_id"`
	Operation     string         `json:"operation"`
	EntityID      string         `json:"entity_id,omitempty"`
	ResultID      string         `json:"result_id,omitempty"`
	AgentID       string         `json:"agent_id,omitempty"`
	ClientID      string         `json:"client_id,omitempty"`
	PayloadHash   string         `json:"payload_hash,omitempty"`
	Duration      time.Duration  `json:"duration"`
	Success       bool           `json:"success"`
	Error         *ErrorInfo     `json:"error,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// CodeInternal is used for errors that carry no code of their own.
const CodeInternal = "INTERNAL"

type coded interface {
	ErrorCode() string
}

type messaged interface {
	ErrorMessage() string
}

// ErrorInfoFrom builds the descriptor for err. Errors exposing ErrorCode()
// keep their code; anything else is INTERNAL.
func ErrorInfoFrom(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Code: CodeInternal, Message: err.Error()}
	var c coded
	if errors.As(err, &c) && c.ErrorCode() != "" {
		info.Code = c.ErrorCode()
	}
	var m messaged
	if errors.As(err, &m) && m.ErrorMessage() != "" {
		info.Message = m.ErrorMessage()
	}
	return info
}

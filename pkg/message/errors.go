package message

import (
	"errors"
	"fmt"
)

// ErrProtocolViolation is matched by every *ProtocolError
var ErrProtocolViolation = errors.New("protocol violation")

// ValidationError reports malformed local input. It is never retried.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	msg := "invalid " + e.Field
	if e.Value != "" {
		msg += fmt.Sprintf(" %q", e.Value)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a response that lacks a field the flow depends on
type ProtocolError struct {
	Operation string
	Field     string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation: %s response missing %s", e.Operation, e.Field)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocolViolation
}

// StatusError is a business status code >= 400 embedded in a successful
// HTTP response.
type StatusError struct {
	Code        int
	Description string
	Details     []string
}

func (e *StatusError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("ksef status %d", e.Code)
	}
	return fmt.Sprintf("ksef status %d: %s", e.Code, e.Description)
}

// NewStatusError builds a StatusError from an embedded status.
func NewStatusError(s StatusInfo) *StatusError {
	return &StatusError{Code: s.Code, Description: s.Description, Details: s.Details}
}

package errors

import (
	"fmt"
	"net/http"
)

/*
ProtocolError is the machine-readable error shape every protocol-facing
operation returns.  Code is stable across versions; Status is the HTTP
status the transport layer should map the error to.
*/
type ProtocolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

/*
Error implements the error interface for ProtocolError.
*/
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Sentinel errors for the protocol taxonomy.  Handlers compare against
// these by Code, never by pointer, because WithMessagef returns copies.
var (
	ErrTaskNotFound = &ProtocolError{
		Code:    "task_not_found",
		Message: "Task not found",
		Status:  http.StatusNotFound,
	}
	ErrMalformedRequest = &ProtocolError{
		Code:    "malformed_request",
		Message: "Malformed request body",
		Status:  http.StatusBadRequest,
	}
	ErrTaskTerminal = &ProtocolError{
		Code:    "task_terminal",
		Message: "Task has reached a terminal status and can no longer change",
		Status:  http.StatusConflict,
	}
	ErrAgentNotFound = &ProtocolError{
		Code:    "agent_not_found",
		Message: "No agent registered under that id",
		Status:  http.StatusBadRequest,
	}
	ErrMessageCapExceeded = &ProtocolError{
		Code:    "message_cap_exceeded",
		Message: "Task message list reached its configured maximum",
		Status:  http.StatusConflict,
	}

	// ErrInvalidTransition signals a programming-contract violation, not a
	// user-facing condition.  Callers must log it, never swallow it.
	ErrInvalidTransition = &ProtocolError{
		Code:    "invalid_transition",
		Message: "Illegal task status transition",
		Status:  http.StatusInternalServerError,
	}

	// ErrAgentExecution is recovered locally into a failed task transition;
	// it never surfaces as a transport error.
	ErrAgentExecution = &ProtocolError{
		Code:    "agent_execution",
		Message: "Agent invocation failed",
		Status:  http.StatusOK,
	}

	ErrInternal = &ProtocolError{
		Code:    "internal",
		Message: "Internal error",
		Status:  http.StatusInternalServerError,
	}
)

/*
WithMessagef creates a *copy* of a ProtocolError with a formatted message.
It does not modify the original sentinel value.
*/
func (e *ProtocolError) WithMessagef(format string, args ...any) *ProtocolError {
	out := *e
	out.Message = fmt.Sprintf(format, args...)
	return &out
}

/*
Is matches two protocol errors by Code so copies produced by WithMessagef
still compare equal to their sentinel.
*/
func (e *ProtocolError) Is(target error) bool {
	other, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

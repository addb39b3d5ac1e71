package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeDependency        = "DEPENDENCY_ERROR"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeConnectivity      = "CONNECTIVITY_ERROR"
	ErrCodeToolUnavailable   = "TOOL_UNAVAILABLE"
	ErrCodeToolCall          = "TOOL_CALL_ERROR"
	ErrCodeParse             = "PARSE_ERROR"
	ErrCodeInference         = "INFERENCE_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeConfig            = "CONFIG_ERROR"
)

// TriageError is the structured error type for all triage operations.
// Callers classify failures by Code alone, never by matching message text.
type TriageError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *TriageError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *TriageError) Unwrap() error {
	return e.Cause
}

// NewError creates a new TriageError.
func NewError(code, message string) *TriageError {
	return &TriageError{Code: code, Message: message}
}

// NewErrorf creates a new TriageError with a formatted message.
func NewErrorf(code, format string, args ...any) *TriageError {
	return &TriageError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *TriageError) WithNode(nodeID string) *TriageError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *TriageError) WithCause(err error) *TriageError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *TriageError) WithDetails(details map[string]any) *TriageError {
	e.Details = details
	return e
}

// IsConnectivity reports whether the error should trigger an
// invalidate-and-retry of the tracker connection.
func (e *TriageError) IsConnectivity() bool {
	return e.Code == ErrCodeConnectivity
}

// CodeOf extracts the TriageError code from an arbitrary error, or "" when the
// error carries no code.
func CodeOf(err error) string {
	var te *TriageError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

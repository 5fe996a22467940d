package core

import "fmt"

// Stable error codes surfaced to API clients and event subscribers.
const (
	ErrCodeInvalidRequest  = "invalid_request"
	ErrCodeValidationError = "validation_error"
	ErrCodeNotFound        = "not_found"
	ErrCodeConflict        = "conflict"
	ErrCodeInternalError   = "internal_error"
)

// EngineError is the error type crossing the engine's boundaries. Code
// is machine-readable and stable; Details carries structured context.
type EngineError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewInvalidRequestError reports a malformed submission or schedule
// request. Not retryable: the caller must fix the request.
func NewInvalidRequestError(message string, details map[string]any) *EngineError {
	return &EngineError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	}
}

// NewValidationError reports a request that parsed but violates a
// constraint.
func NewValidationError(message string, details map[string]any) *EngineError {
	return &EngineError{
		Code:    ErrCodeValidationError,
		Message: message,
		Details: details,
	}
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(resourceType, resourceID string) *EngineError {
	return &EngineError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found.", resourceType, resourceID),
		Details: map[string]any{
			"resource_type": resourceType,
			"resource_id":   resourceID,
		},
	}
}

// NewConflictError reports an operation that conflicts with current
// state, e.g. cancelling a job that is already running.
func NewConflictError(message string, details map[string]any) *EngineError {
	return &EngineError{
		Code:    ErrCodeConflict,
		Message: message,
		Details: details,
	}
}

// NewInternalError reports an unexpected engine-side failure.
func NewInternalError(message string) *EngineError {
	return &EngineError{
		Code:      ErrCodeInternalError,
		Message:   message,
		Retryable: true,
	}
}

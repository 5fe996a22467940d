package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tradehive/agentd/internal/core"
)

// MediaType is the Content-Type of every response body.
const MediaType = "application/json"

// ErrorResponse is the wire shape of every error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the engine error plus the request id for
// correlation.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// WriteError writes an engine error as a JSON error body with the given
// status.
func WriteError(w http.ResponseWriter, status int, engErr *core.EngineError) {
	resp := ErrorResponse{
		Error: ErrorBody{
			Code:      engErr.Code,
			Message:   engErr.Message,
			Retryable: engErr.Retryable,
			Details:   engErr.Details,
			RequestID: w.Header().Get("X-Request-Id"),
		},
	}
	WriteJSON(w, status, resp)
}

// StatusForError maps an engine error code to its HTTP status.
func StatusForError(engErr *core.EngineError) int {
	switch engErr.Code {
	case core.ErrCodeInvalidRequest, core.ErrCodeValidationError:
		return http.StatusBadRequest
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError writes any error, unwrapping engine errors to their
// mapped status and treating everything else as internal.
func writeEngineError(w http.ResponseWriter, err error) {
	if engErr, ok := err.(*core.EngineError); ok {
		WriteError(w, StatusForError(engErr), engErr)
		return
	}
	WriteError(w, http.StatusInternalServerError, core.NewInternalError(err.Error()))
}

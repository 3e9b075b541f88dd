package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope, matching the classified
// error taxonomy's public view (coreerr.Error.Public).
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, err string, message string) {
	Respond(w, status, ErrorResponse{
		Error:   err,
		Message: message,
	})
}

// RespondClassifiedError writes a JSON error response derived from a
// coreerr.Error's public view, attaching its correlation id for operator
// triage without leaking internal detail.
func RespondClassifiedError(w http.ResponseWriter, status int, code, correlationID, message string) {
	Respond(w, status, ErrorResponse{
		Error:         code,
		Message:       message,
		CorrelationID: correlationID,
	})
}

package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/analysis"
)

// errorEnvelope is the uniform error body returned by every non-2xx
// response. RetryAfter is populated only on 429s.
type errorEnvelope struct {
	Success    bool                  `json:"success"`
	Error      string                `json:"error"`
	Message    string                `json:"message,omitempty"`
	Details    []analysis.FieldError `json:"details,omitempty"`
	RetryAfter *int                  `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: code, Message: message})
}

func writeValidationError(w http.ResponseWriter, message string, details []analysis.FieldError) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{
		Error:   "Validation failed",
		Message: message,
		Details: details,
	})
}

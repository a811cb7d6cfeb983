package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// ErrorBody is the wire shape of a failed request.
type ErrorBody struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Code    int            `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorEnvelope wraps every error response.
type ErrorEnvelope struct {
	Error     ErrorBody `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// JSONResponse sends a JSON response with the given data and status code
func JSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// ErrorResponse maps an error to the standard envelope and status code.
func ErrorResponse(w http.ResponseWriter, err error) {
	appErr := AsAppError(err)
	JSONResponse(w, ErrorEnvelope{
		Error: ErrorBody{
			Type:    string(appErr.Type),
			Message: appErr.Message,
			Code:    appErr.Code,
			Details: appErr.Details,
		},
		Timestamp: time.Now().UTC(),
	}, appErr.Code)
}


package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// apiError is the JSON body returned when an API request is refused.
type apiError struct {
	Error string `json:"error"`
	// LoginURL tells clients where to send the user when the session is gone.
	LoginURL string `json:"login_url,omitempty"`
}

// writeJSONError writes a JSON error response with the given status code.
// Unauthorized responses point at the login page.
func writeJSONError(ctx context.Context, w http.ResponseWriter, message string, status int) {
	body := apiError{Error: message}
	if status == http.StatusUnauthorized {
		body.LoginURL = "/login"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

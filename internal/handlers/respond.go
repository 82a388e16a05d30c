package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"challenge-engine/internal/challenge"
)

const maxBodyBytes = 1 << 20

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}

// respondWithServiceError maps a service error kind onto a status code.
// Unclassified errors are logged and hidden behind a generic message.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, challenge.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, challenge.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, challenge.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, challenge.ErrConflict):
		status = http.StatusConflict
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithError(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return challenge.Validationf("invalid request body: %v", err)
	}
	return nil
}

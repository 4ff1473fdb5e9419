package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pliu/roomchat/internal/store"
)

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// storeError maps a store error onto a status code. Unexpected errors are
// logged and reported without detail.
func storeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, "room not found")
	case errors.Is(err, store.ErrForbidden):
		Error(w, http.StatusForbidden, "invalid password")
	default:
		log.Error().Err(err).Msg("store operation failed")
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/TonniChopper/DeutschLearner/internal/domain"
)

// ContextKey type for context keys
type ContextKey string

const (
	ContextKeyUser ContextKey = "user"
)

// getUserIDFromContext extracts the user ID from request context
func getUserIDFromContext(ctx interface{ Value(any) any }) (uuid.UUID, bool) {
	user := ctx.Value(ContextKeyUser)
	if user == nil {
		return uuid.Nil, false
	}
	if id, ok := user.(uuid.UUID); ok {
		return id, true
	}
	return uuid.Nil, false
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// writeDomainError maps service errors onto HTTP statuses
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		jsonError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrExerciseNotFound),
		errors.Is(err, domain.ErrLevelTestNotFound),
		errors.Is(err, domain.ErrProfileNotFound),
		errors.Is(err, domain.ErrNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrExerciseResolved),
		errors.Is(err, domain.ErrActiveTestExists),
		errors.Is(err, domain.ErrConflict):
		jsonError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNoGeneratedTask):
		jsonError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrUpstream):
		jsonError(w, http.StatusBadGateway, "generative service is unavailable")
	default:
		jsonError(w, http.StatusInternalServerError, "internal error")
	}
}

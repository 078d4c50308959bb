package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/TonniChopper/DeutschLearner/internal/domain"
	"github.com/TonniChopper/DeutschLearner/internal/profile"
)

// ProfileHandler handles profile endpoints
type ProfileHandler struct {
	service *profile.Service
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(service *profile.Service) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// UpdatePreferencesRequest is the body for preference updates
type UpdatePreferencesRequest struct {
	PreferredTaskTypes []string `json:"preferred_task_types"`
}

// ProfileResponse represents a learning profile in API responses
type ProfileResponse struct {
	UserID               string   `json:"user_id"`
	Name                 string   `json:"name,omitempty"`
	Surname              string   `json:"surname,omitempty"`
	LanguageLevel        string   `json:"language_level,omitempty"`
	Progress             int      `json:"progress"`
	Errors               int      `json:"errors"`
	PreferredTaskTypes   []string `json:"preferred_task_types,omitempty"`
	InitialTestCompleted bool     `json:"initial_test_completed"`
	LastLevelTestDate    string   `json:"last_level_test_date,omitempty"`
	TotalXP              int      `json:"total_xp"`
	CompletedExercises   int      `json:"completed_exercises"`
}

func (h *ProfileHandler) profileResponse(p *domain.Profile, exp *domain.Experience) ProfileResponse {
	resp := ProfileResponse{
		UserID:               p.UserID.String(),
		Name:                 p.Name,
		Surname:              p.Surname,
		LanguageLevel:        p.LanguageLevel,
		Progress:             p.Progress,
		Errors:               p.Errors,
		InitialTestCompleted: p.InitialTestCompleted,
		TotalXP:              exp.TotalXP,
		CompletedExercises:   exp.CompletedExercises,
	}
	for _, t := range p.PreferredTaskTypes {
		resp.PreferredTaskTypes = append(resp.PreferredTaskTypes, string(t))
	}
	if p.LastLevelTestDate != nil {
		resp.LastLevelTestDate = p.LastLevelTestDate.Format(time.RFC3339)
	}
	return resp
}

// Get returns the user's profile with experience totals
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	p, err := h.service.Get(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	exp, err := h.service.Experience(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, h.profileResponse(p, exp))
}

// UpdatePreferences replaces the user's preferred task types
func (h *ProfileHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req UpdatePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	taskTypes := make([]domain.TaskType, 0, len(req.PreferredTaskTypes))
	for _, t := range req.PreferredTaskTypes {
		taskTypes = append(taskTypes, domain.TaskType(t))
	}

	p, err := h.service.UpdatePreferences(r.Context(), userID, taskTypes)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	exp, err := h.service.Experience(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, h.profileResponse(p, exp))
}

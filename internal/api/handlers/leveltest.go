package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/TonniChopper/DeutschLearner/internal/domain"
	"github.com/TonniChopper/DeutschLearner/internal/leveltest"
)

// LevelTestHandler handles level test endpoints
type LevelTestHandler struct {
	service *leveltest.Service
}

// NewLevelTestHandler creates a new level test handler
func NewLevelTestHandler(service *leveltest.Service) *LevelTestHandler {
	return &LevelTestHandler{service: service}
}

// StartTestRequest is the body for starting a level test. TestType is
// optional; when empty the service derives it from the profile.
type StartTestRequest struct {
	TestType string `json:"test_type,omitempty"`
}

// SubmitTestRequest is the body for submitting level test answers
type SubmitTestRequest struct {
	Answers map[string]string `json:"answers"`
}

// LevelTestResponse represents a level test in API responses
type LevelTestResponse struct {
	ID              string            `json:"id"`
	TestType        string            `json:"test_type"`
	Questions       string            `json:"questions,omitempty"`
	Answers         map[string]string `json:"answers,omitempty"`
	Evaluation      string            `json:"evaluation,omitempty"`
	DeterminedLevel string            `json:"determined_level,omitempty"`
	TotalScore      *float64          `json:"total_score,omitempty"`
	Active          bool              `json:"active"`
	StartedAt       string            `json:"started_at"`
	CompletedAt     string            `json:"completed_at,omitempty"`
}

// StatusResponse summarizes the user's level test standing
type StatusResponse struct {
	LanguageLevel        string `json:"language_level,omitempty"`
	InitialTestCompleted bool   `json:"initial_test_completed"`
	LastLevelTestDate    string `json:"last_level_test_date,omitempty"`
	ActiveTestID         string `json:"active_test_id,omitempty"`
}

func levelTestResponse(rec *domain.LevelTestRecord) LevelTestResponse {
	resp := LevelTestResponse{
		ID:              rec.ID.String(),
		TestType:        string(rec.TestType),
		Questions:       rec.GeneratedText,
		Answers:         rec.Answers,
		Evaluation:      rec.EvaluationText,
		DeterminedLevel: rec.DeterminedLevel,
		Active:          rec.Active,
		StartedAt:       rec.StartedAt.Format(time.RFC3339),
	}
	if !rec.Active {
		score := rec.TotalScore
		resp.TotalScore = &score
	}
	if rec.CompletedAt != nil {
		resp.CompletedAt = rec.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

// Start begins a new level test for the user
func (h *LevelTestHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req StartTestRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	rec, err := h.service.Start(r.Context(), userID, domain.TestType(req.TestType))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	jsonResponse(w, http.StatusCreated, levelTestResponse(rec))
}

// Submit evaluates the user's answers for an active level test
func (h *LevelTestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	testID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid test id")
		return
	}

	var req SubmitTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.service.Submit(r.Context(), userID, testID, req.Answers)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, levelTestResponse(rec))
}

// Current returns the user's active level test, if any
func (h *LevelTestHandler) Current(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	rec, err := h.service.Current(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, levelTestResponse(rec))
}

// History returns the user's completed level tests
func (h *LevelTestHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := h.service.History(r.Context(), userID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response := make([]LevelTestResponse, 0, len(records))
	for _, rec := range records {
		response = append(response, levelTestResponse(rec))
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"tests": response,
		"total": len(response),
	})
}

// Status reports the user's level and test progress
func (h *LevelTestHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	status, err := h.service.Status(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := StatusResponse{
		LanguageLevel:        status.LanguageLevel,
		InitialTestCompleted: status.InitialTestCompleted,
	}
	if status.LastLevelTestDate != nil {
		resp.LastLevelTestDate = status.LastLevelTestDate.Format(time.RFC3339)
	}
	if status.ActiveTestID != nil {
		resp.ActiveTestID = status.ActiveTestID.String()
	}

	jsonResponse(w, http.StatusOK, resp)
}

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/TonniChopper/DeutschLearner/internal/domain"
	"github.com/TonniChopper/DeutschLearner/internal/exercise"
)

// ExerciseHandler handles exercise endpoints
type ExerciseHandler struct {
	service *exercise.Service
}

// NewExerciseHandler creates a new exercise handler
func NewExerciseHandler(service *exercise.Service) *ExerciseHandler {
	return &ExerciseHandler{service: service}
}

// GenerateRequest is the body for task generation
type GenerateRequest struct {
	TaskType   string `json:"task_type"`
	Difficulty string `json:"difficulty,omitempty"`
}

// SubmitRequest is the body for a submission. Submission may be free
// text or a JSON object of per-question answers.
type SubmitRequest struct {
	Submission json.RawMessage `json:"submission"`
}

// ExerciseResponse represents an exercise in API responses
type ExerciseResponse struct {
	ID          string            `json:"id"`
	TaskType    string            `json:"task_type"`
	Status      string            `json:"status"`
	Task        map[string]string `json:"task,omitempty"`
	RawTask     string            `json:"raw_task,omitempty"`
	Submission  map[string]string `json:"submission,omitempty"`
	Feedback    map[string]string `json:"feedback,omitempty"`
	RawFeedback string            `json:"raw_feedback,omitempty"`
	Score       *float64          `json:"score,omitempty"`
	Degraded    bool              `json:"degraded"`
	ParseErrors []string          `json:"parse_errors,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

// RecommendationResponse represents a recommendation in API responses
type RecommendationResponse struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

func exerciseResponse(rec *domain.ExerciseRecord) ExerciseResponse {
	resp := ExerciseResponse{
		ID:          rec.ID.String(),
		TaskType:    string(rec.TaskType),
		Status:      string(rec.Status),
		Task:        rec.ParsedTask,
		Submission:  rec.SubmissionParsed,
		Feedback:    rec.ParsedFeedback,
		RawFeedback: rec.FeedbackText,
		Score:       rec.Score,
		Degraded:    rec.Degraded(),
		ParseErrors: rec.ParseErrors,
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
	}
	// The raw text is the fallback when structuring failed
	if rec.Degraded() || len(rec.ParsedTask) == 0 {
		resp.RawTask = rec.GeneratedText
	}
	return resp
}

func recommendationResponse(rec *domain.Recommendation) RecommendationResponse {
	return RecommendationResponse{
		ID:        rec.ID.String(),
		Text:      rec.GeneratedText,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
}

// Generate creates a new exercise for the user
func (h *ExerciseHandler) Generate(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.service.Generate(r.Context(), userID, domain.TaskType(req.TaskType), req.Difficulty)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	jsonResponse(w, http.StatusCreated, exerciseResponse(rec))
}

// Submit grades a submission for an exercise
func (h *ExerciseHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	exerciseID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid exercise id")
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.service.Submit(r.Context(), userID, exerciseID, rawSubmission(req.Submission))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, exerciseResponse(rec))
}

// Get returns one exercise
func (h *ExerciseHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	exerciseID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid exercise id")
		return
	}

	rec, err := h.service.Get(r.Context(), userID, exerciseID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, exerciseResponse(rec))
}

// List returns the user's exercises
func (h *ExerciseHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := h.service.List(r.Context(), userID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response := make([]ExerciseResponse, 0, len(records))
	for _, rec := range records {
		response = append(response, exerciseResponse(rec))
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"exercises": response,
		"total":     len(response),
	})
}

// Recommend generates fresh study recommendations
func (h *ExerciseHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	rec, err := h.service.Recommend(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	jsonResponse(w, http.StatusCreated, recommendationResponse(rec))
}

// ListRecommendations returns stored recommendations
func (h *ExerciseHandler) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := h.service.ListRecommendations(r.Context(), userID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response := make([]RecommendationResponse, 0, len(records))
	for _, rec := range records {
		response = append(response, recommendationResponse(rec))
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"recommendations": response,
		"total":           len(response),
	})
}

// rawSubmission turns the submission field back into the text the
// service normalizes: JSON strings are unquoted, objects pass through
func rawSubmission(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/TonniChopper/DeutschLearner/internal/config"
	"github.com/TonniChopper/DeutschLearner/internal/domain"
	"github.com/TonniChopper/DeutschLearner/internal/exercise"
	"github.com/TonniChopper/DeutschLearner/internal/generative"
	"github.com/TonniChopper/DeutschLearner/internal/leveltest"
	"github.com/TonniChopper/DeutschLearner/internal/profile"
)

const routerTestTask = `<task>
<title>Artikel im Dativ</title>
<instructions>Setze den richtigen Artikel ein.</instructions>
<questions>1. Ich gebe ___ Mann das Buch.</questions>
</task>`

const routerTestFeedback = `<feedback>
<overall>Gut gemacht.</overall>
</feedback>`

const routerTestQuestions = `<test>
<question id="q1">Wie heißt der Artikel?</question>
</test>`

// In-memory repositories backing the full service stack for HTTP tests

type stubExerciseRepo struct {
	records map[uuid.UUID]*domain.ExerciseRecord
}

func (r *stubExerciseRepo) Create(_ context.Context, rec *domain.ExerciseRecord) error {
	clone := *rec
	r.records[rec.ID] = &clone
	return nil
}

func (r *stubExerciseRepo) GetForUser(_ context.Context, userID, id uuid.UUID) (*domain.ExerciseRecord, error) {
	rec, ok := r.records[id]
	if !ok || rec.UserID != userID {
		return nil, domain.ErrExerciseNotFound
	}
	clone := *rec
	return &clone, nil
}

func (r *stubExerciseRepo) ListForUser(_ context.Context, userID uuid.UUID, limit int) ([]*domain.ExerciseRecord, error) {
	var out []*domain.ExerciseRecord
	for _, rec := range r.records {
		if rec.UserID == userID && len(out) < limit {
			clone := *rec
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *stubExerciseRepo) UpdateIfInProgress(_ context.Context, rec *domain.ExerciseRecord) error {
	stored, ok := r.records[rec.ID]
	if !ok || stored.UserID != rec.UserID {
		return domain.ErrExerciseNotFound
	}
	if stored.Status != domain.StatusInProgress {
		return domain.ErrExerciseResolved
	}
	clone := *rec
	r.records[rec.ID] = &clone
	return nil
}

type stubLevelTestRepo struct {
	records map[uuid.UUID]*domain.LevelTestRecord
}

func (r *stubLevelTestRepo) Create(_ context.Context, rec *domain.LevelTestRecord) error {
	for _, stored := range r.records {
		if stored.UserID == rec.UserID && stored.Active {
			return domain.ErrActiveTestExists
		}
	}
	clone := *rec
	r.records[rec.ID] = &clone
	return nil
}

func (r *stubLevelTestRepo) GetActiveForUser(_ context.Context, userID, id uuid.UUID) (*domain.LevelTestRecord, error) {
	rec, ok := r.records[id]
	if !ok || rec.UserID != userID || !rec.Active {
		return nil, domain.ErrLevelTestNotFound
	}
	clone := *rec
	return &clone, nil
}

func (r *stubLevelTestRepo) FindActive(_ context.Context, userID uuid.UUID) (*domain.LevelTestRecord, error) {
	for _, rec := range r.records {
		if rec.UserID == userID && rec.Active {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, domain.ErrLevelTestNotFound
}

func (r *stubLevelTestRepo) ListCompleted(_ context.Context, userID uuid.UUID, limit int) ([]*domain.LevelTestRecord, error) {
	var out []*domain.LevelTestRecord
	for _, rec := range r.records {
		if rec.UserID == userID && !rec.Active && len(out) < limit {
			clone := *rec
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *stubLevelTestRepo) CompleteIfActive(_ context.Context, rec *domain.LevelTestRecord) error {
	stored, ok := r.records[rec.ID]
	if !ok || stored.UserID != rec.UserID || !stored.Active {
		return domain.ErrLevelTestNotFound
	}
	clone := *rec
	r.records[rec.ID] = &clone
	return nil
}

type stubProfileRepo struct {
	profiles map[uuid.UUID]*domain.Profile
}

func (r *stubProfileRepo) Get(_ context.Context, userID uuid.UUID) (*domain.Profile, error) {
	p, ok := r.profiles[userID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *stubProfileRepo) Save(_ context.Context, p *domain.Profile) error {
	clone := *p
	r.profiles[p.UserID] = &clone
	return nil
}

func (r *stubProfileRepo) IncrementProgress(_ context.Context, userID uuid.UUID, delta int) error {
	p, ok := r.profiles[userID]
	if !ok {
		return domain.ErrProfileNotFound
	}
	p.Progress += delta
	return nil
}

func (r *stubProfileRepo) IncrementErrors(_ context.Context, userID uuid.UUID, delta int) error {
	p, ok := r.profiles[userID]
	if !ok {
		return domain.ErrProfileNotFound
	}
	p.Errors += delta
	return nil
}

type stubExperienceRepo struct {
	totals map[uuid.UUID]*domain.Experience
}

func (r *stubExperienceRepo) Get(_ context.Context, userID uuid.UUID) (*domain.Experience, error) {
	exp, ok := r.totals[userID]
	if !ok {
		return nil, domain.ErrExperienceNotFound
	}
	clone := *exp
	return &clone, nil
}

func (r *stubExperienceRepo) Add(_ context.Context, userID uuid.UUID, xp int) error {
	exp, ok := r.totals[userID]
	if !ok {
		exp = &domain.Experience{UserID: userID}
		r.totals[userID] = exp
	}
	exp.TotalXP += xp
	exp.CompletedExercises++
	return nil
}

type stubRecommendationRepo struct {
	records []*domain.Recommendation
}

func (r *stubRecommendationRepo) Create(_ context.Context, rec *domain.Recommendation) error {
	clone := *rec
	r.records = append(r.records, &clone)
	return nil
}

func (r *stubRecommendationRepo) ListForUser(_ context.Context, userID uuid.UUID, limit int) ([]*domain.Recommendation, error) {
	var out []*domain.Recommendation
	for _, rec := range r.records {
		if rec.UserID == userID && len(out) < limit {
			clone := *rec
			out = append(out, &clone)
		}
	}
	return out, nil
}

// stubGenerativeClient returns canned well-formed envelopes
type stubGenerativeClient struct {
	generateErr error
}

func (c *stubGenerativeClient) GenerateTask(_ context.Context, _ generative.ProfileContext, _ domain.TaskType, _ string) (*generative.TaskResult, error) {
	if c.generateErr != nil {
		return nil, c.generateErr
	}
	return &generative.TaskResult{Text: routerTestTask, PromptUsed: "prompt"}, nil
}

func (c *stubGenerativeClient) GradeSubmission(_ context.Context, _, _ string) (*generative.GradeResult, error) {
	return &generative.GradeResult{FeedbackText: routerTestFeedback, Score: 0.8}, nil
}

func (c *stubGenerativeClient) GenerateRecommendations(_ context.Context, _ generative.ProfileContext) (*generative.TaskResult, error) {
	return &generative.TaskResult{Text: "<recommendations><item>Dativ üben</item></recommendations>", PromptUsed: "prompt"}, nil
}

func (c *stubGenerativeClient) GenerateLevelTest(_ context.Context, _ domain.TestType) (*generative.TaskResult, error) {
	return &generative.TaskResult{Text: routerTestQuestions, PromptUsed: "prompt"}, nil
}

func (c *stubGenerativeClient) EvaluateLevelTest(_ context.Context, _ string, _ map[string]string) (*generative.EvaluationResult, error) {
	return &generative.EvaluationResult{
		EvaluationText:  "<evaluation><level>B1</level><total_score>0.7</total_score></evaluation>",
		DeterminedLevel: "B1",
		TotalScore:      0.7,
	}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	client := &stubGenerativeClient{}
	profiles := profile.NewService(
		&stubProfileRepo{profiles: make(map[uuid.UUID]*domain.Profile)},
		&stubExperienceRepo{totals: make(map[uuid.UUID]*domain.Experience)},
		nil,
	)
	app := &App{
		Config:   &config.Config{Debug: true},
		Profiles: profiles,
		Exercises: exercise.NewService(
			&stubExerciseRepo{records: make(map[uuid.UUID]*domain.ExerciseRecord)},
			&stubRecommendationRepo{},
			profiles, client, nil, nil,
		),
		LevelTests: leveltest.NewService(
			&stubLevelTestRepo{records: make(map[uuid.UUID]*domain.LevelTestRecord)},
			profiles, client, nil, nil,
		),
	}

	return NewRouter(app)
}

func doRequest(t *testing.T, handler http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rr := doRequest(t, router, http.MethodGet, "/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %q, want healthy", body["status"])
	}
}

func TestRequireUser_MissingHeader(t *testing.T) {
	router := newTestRouter(t)

	rr := doRequest(t, router, http.MethodGet, "/api/v1/profile", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestRequireUser_InvalidHeader(t *testing.T) {
	router := newTestRouter(t)

	rr := doRequest(t, router, http.MethodGet, "/api/v1/profile", "not-a-uuid", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestGenerateAndSubmitFlow(t *testing.T) {
	router := newTestRouter(t)
	userID := uuid.NewString()

	rr := doRequest(t, router, http.MethodPost, "/api/v1/tasks/generate", userID,
		`{"task_type":"grammar"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("generate status = %d, body %s", rr.Code, rr.Body.String())
	}

	var created struct {
		ID       string            `json:"id"`
		Status   string            `json:"status"`
		Task     map[string]string `json:"task"`
		Degraded bool              `json:"degraded"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if created.Status != "in_progress" {
		t.Errorf("status = %q, want in_progress", created.Status)
	}
	if created.Task["title"] != "Artikel im Dativ" {
		t.Errorf("task title = %q", created.Task["title"])
	}
	if created.Degraded {
		t.Error("well-formed task reported as degraded")
	}

	rr = doRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/v1/tasks/%s/submit", created.ID), userID,
		`{"submission":"Ich gebe dem Mann das Buch."}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("submit status = %d, body %s", rr.Code, rr.Body.String())
	}

	var graded struct {
		Status string   `json:"status"`
		Score  *float64 `json:"score"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &graded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if graded.Status != "completed" {
		t.Errorf("status = %q, want completed", graded.Status)
	}
	if graded.Score == nil || *graded.Score != 0.8 {
		t.Errorf("score = %v, want 0.8", graded.Score)
	}

	// A second submission on a resolved exercise conflicts
	rr = doRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/v1/tasks/%s/submit", created.ID), userID,
		`{"submission":"noch einmal"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("resubmit status = %d, want 409", rr.Code)
	}
}

func TestGenerate_InvalidTaskType(t *testing.T) {
	router := newTestRouter(t)

	rr := doRequest(t, router, http.MethodPost, "/api/v1/tasks/generate", uuid.NewString(),
		`{"task_type":"juggling"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestSubmit_UnknownExercise(t *testing.T) {
	router := newTestRouter(t)

	rr := doRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/v1/tasks/%s/submit", uuid.NewString()), uuid.NewString(),
		`{"submission":"hallo"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestLevelTestFlow(t *testing.T) {
	router := newTestRouter(t)
	userID := uuid.NewString()

	rr := doRequest(t, router, http.MethodPost, "/api/v1/level-test/start", userID, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("start status = %d, body %s", rr.Code, rr.Body.String())
	}

	var started struct {
		ID       string `json:"id"`
		TestType string `json:"test_type"`
		Active   bool   `json:"active"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &started); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if started.TestType != "initial" {
		t.Errorf("test type = %q, want initial", started.TestType)
	}
	if !started.Active {
		t.Error("started test not active")
	}

	// A second start conflicts while the first is active
	rr = doRequest(t, router, http.MethodPost, "/api/v1/level-test/start", userID, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", rr.Code)
	}

	rr = doRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/v1/level-test/%s/submit", started.ID), userID,
		`{"answers":{"q1":"der"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("submit status = %d, body %s", rr.Code, rr.Body.String())
	}

	var completed struct {
		Active          bool     `json:"active"`
		DeterminedLevel string   `json:"determined_level"`
		TotalScore      *float64 `json:"total_score"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &completed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if completed.Active {
		t.Error("submitted test still active")
	}
	if completed.DeterminedLevel != "B1" {
		t.Errorf("level = %q, want B1", completed.DeterminedLevel)
	}
	if completed.TotalScore == nil || *completed.TotalScore != 0.7 {
		t.Errorf("total score = %v, want 0.7", completed.TotalScore)
	}

	// Status reflects the completed initial test
	rr = doRequest(t, router, http.MethodGet, "/api/v1/level-test/status", userID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", rr.Code)
	}

	var status struct {
		LanguageLevel        string `json:"language_level"`
		InitialTestCompleted bool   `json:"initial_test_completed"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if status.LanguageLevel != "B1" {
		t.Errorf("language level = %q, want B1", status.LanguageLevel)
	}
	if !status.InitialTestCompleted {
		t.Error("initial test not marked completed")
	}
}

func TestProfileReflectsOutcomes(t *testing.T) {
	router := newTestRouter(t)
	userID := uuid.NewString()

	rr := doRequest(t, router, http.MethodPost, "/api/v1/tasks/generate", userID,
		`{"task_type":"vocabulary"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("generate status = %d", rr.Code)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	rr = doRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/v1/tasks/%s/submit", created.ID), userID,
		`{"submission":"die Antwort"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("submit status = %d", rr.Code)
	}

	rr = doRequest(t, router, http.MethodGet, "/api/v1/profile", userID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("profile status = %d", rr.Code)
	}

	var prof struct {
		Progress           int `json:"progress"`
		Errors             int `json:"errors"`
		TotalXP            int `json:"total_xp"`
		CompletedExercises int `json:"completed_exercises"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &prof); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if prof.Progress != 10 {
		t.Errorf("progress = %d, want 10", prof.Progress)
	}
	if prof.Errors != 0 {
		t.Errorf("errors = %d, want 0", prof.Errors)
	}
	if prof.TotalXP != 40 {
		t.Errorf("total xp = %d, want 40", prof.TotalXP)
	}
	if prof.CompletedExercises != 1 {
		t.Errorf("completed = %d, want 1", prof.CompletedExercises)
	}
}

func TestUpdatePreferences(t *testing.T) {
	router := newTestRouter(t)
	userID := uuid.NewString()

	rr := doRequest(t, router, http.MethodPut, "/api/v1/profile/preferences", userID,
		`{"preferred_task_types":["grammar","vocabulary"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var prof struct {
		PreferredTaskTypes []string `json:"preferred_task_types"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &prof); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(prof.PreferredTaskTypes) != 2 {
		t.Fatalf("preferences = %v", prof.PreferredTaskTypes)
	}

	rr = doRequest(t, router, http.MethodPut, "/api/v1/profile/preferences", userID,
		`{"preferred_task_types":["juggling"]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid preference status = %d, want 400", rr.Code)
	}
}

func TestRecommendationsFlow(t *testing.T) {
	router := newTestRouter(t)
	userID := uuid.NewString()

	rr := doRequest(t, router, http.MethodPost, "/api/v1/recommendations", userID, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("recommend status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, router, http.MethodGet, "/api/v1/recommendations", userID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}

	var listed struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if listed.Total != 1 {
		t.Errorf("total = %d, want 1", listed.Total)
	}
}

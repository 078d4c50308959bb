package exercise

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/TonniChopper/DeutschLearner/internal/audit"
	"github.com/TonniChopper/DeutschLearner/internal/domain"
	"github.com/TonniChopper/DeutschLearner/internal/generative"
	"github.com/TonniChopper/DeutschLearner/internal/profile"
)

const wellFormedTask = `<task>
<title>Artikel im Dativ</title>
<instructions>Setze den richtigen Artikel ein.</instructions>
<questions>1. Ich gebe ___ Mann das Buch.</questions>
</task>`

const wellFormedFeedback = `<feedback>
<overall>Gut gemacht, ein Fehler bei Frage 2.</overall>
<corrections>2. dem, nicht den</corrections>
</feedback>`

// mockExerciseRepo is an in-memory store with the same conditional
// update semantics as the real one
type mockExerciseRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.ExerciseRecord
	created int
}

func newMockExerciseRepo() *mockExerciseRepo {
	return &mockExerciseRepo{records: make(map[uuid.UUID]*domain.ExerciseRecord)}
}

func (m *mockExerciseRepo) Create(ctx context.Context, rec *domain.ExerciseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ID] = &cp
	m.created++
	return nil
}

func (m *mockExerciseRepo) GetForUser(ctx context.Context, userID, id uuid.UUID) (*domain.ExerciseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.UserID != userID {
		return nil, domain.ErrExerciseNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *mockExerciseRepo) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ExerciseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ExerciseRecord
	for _, rec := range m.records {
		if rec.UserID == userID && len(out) < limit {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockExerciseRepo) UpdateIfInProgress(ctx context.Context, rec *domain.ExerciseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.records[rec.ID]
	if !ok {
		return domain.ErrExerciseNotFound
	}
	if stored.Status != domain.StatusInProgress {
		return domain.ErrExerciseResolved
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

type mockRecommendationRepo struct {
	mu      sync.Mutex
	records []*domain.Recommendation
}

func (m *mockRecommendationRepo) Create(ctx context.Context, rec *domain.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *mockRecommendationRepo) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records, nil
}

type mockProfileRepo struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*domain.Profile
	progress int
	errCount int
}

func newMockProfileRepo() *mockProfileRepo {
	return &mockProfileRepo{profiles: make(map[uuid.UUID]*domain.Profile)}
}

func (m *mockProfileRepo) Get(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockProfileRepo) Save(ctx context.Context, p *domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.profiles[p.UserID] = &cp
	return nil
}

func (m *mockProfileRepo) IncrementProgress(ctx context.Context, userID uuid.UUID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress += delta
	return nil
}

func (m *mockProfileRepo) IncrementErrors(ctx context.Context, userID uuid.UUID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errCount += delta
	return nil
}

type mockExperienceRepo struct {
	mu    sync.Mutex
	total int
	adds  int
}

func (m *mockExperienceRepo) Get(ctx context.Context, userID uuid.UUID) (*domain.Experience, error) {
	return nil, domain.ErrExperienceNotFound
}

func (m *mockExperienceRepo) Add(ctx context.Context, userID uuid.UUID, xp int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total += xp
	m.adds++
	return nil
}

// mockClient is a canned generative client
type mockClient struct {
	taskText      string
	taskErr       error
	feedbackText  string
	score         float64
	gradeErr      error
	recommendErr  error
	recommendText string
}

func (m *mockClient) GenerateTask(ctx context.Context, p generative.ProfileContext, taskType domain.TaskType, difficulty string) (*generative.TaskResult, error) {
	if m.taskErr != nil {
		return nil, m.taskErr
	}
	return &generative.TaskResult{Text: m.taskText, PromptUsed: "prompt"}, nil
}

func (m *mockClient) GradeSubmission(ctx context.Context, taskText, submissionText string) (*generative.GradeResult, error) {
	if m.gradeErr != nil {
		return nil, m.gradeErr
	}
	return &generative.GradeResult{FeedbackText: m.feedbackText, Score: m.score}, nil
}

func (m *mockClient) GenerateRecommendations(ctx context.Context, p generative.ProfileContext) (*generative.TaskResult, error) {
	if m.recommendErr != nil {
		return nil, m.recommendErr
	}
	return &generative.TaskResult{Text: m.recommendText, PromptUsed: "prompt"}, nil
}

func (m *mockClient) GenerateLevelTest(ctx context.Context, testType domain.TestType) (*generative.TaskResult, error) {
	return nil, errors.New("not used")
}

func (m *mockClient) EvaluateLevelTest(ctx context.Context, testText string, answers map[string]string) (*generative.EvaluationResult, error) {
	return nil, errors.New("not used")
}

type fixture struct {
	svc       *Service
	exercises *mockExerciseRepo
	recs      *mockRecommendationRepo
	profiles  *mockProfileRepo
	xp        *mockExperienceRepo
	client    *mockClient
}

func newFixture(client *mockClient) *fixture {
	exercises := newMockExerciseRepo()
	recs := &mockRecommendationRepo{}
	profiles := newMockProfileRepo()
	xp := &mockExperienceRepo{}
	profileSvc := profile.NewService(profiles, xp, nil)
	svc := NewService(exercises, recs, profileSvc, client, audit.NopSink{}, nil)
	return &fixture{svc: svc, exercises: exercises, recs: recs, profiles: profiles, xp: xp, client: client}
}

func TestGenerate(t *testing.T) {
	f := newFixture(&mockClient{taskText: wellFormedTask})
	userID := uuid.New()

	rec, err := f.svc.Generate(context.Background(), userID, domain.TaskGrammar, "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if rec.Status != domain.StatusInProgress {
		t.Errorf("status = %q, want in_progress", rec.Status)
	}
	if rec.GeneratedText != wellFormedTask {
		t.Error("generated text not stored")
	}
	if rec.ParsedTask["title"] != "Artikel im Dativ" {
		t.Errorf("parsed title = %q", rec.ParsedTask["title"])
	}
	if rec.Degraded() {
		t.Errorf("well-formed task marked degraded: %v", rec.ParseErrors)
	}
	if f.exercises.created != 1 {
		t.Errorf("created %d records, want 1", f.exercises.created)
	}
}

func TestGenerate_InvalidTaskType(t *testing.T) {
	f := newFixture(&mockClient{taskText: wellFormedTask})

	_, err := f.svc.Generate(context.Background(), uuid.New(), "listening", "")
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("error = %v, want validation error", err)
	}
	if f.exercises.created != 0 {
		t.Error("record created for invalid task type")
	}
}

func TestGenerate_UpstreamFailureCreatesNoRecord(t *testing.T) {
	gerr := &generative.UpstreamError{Op: "generate_task", Detail: "status 503"}
	f := newFixture(&mockClient{taskErr: gerr})

	_, err := f.svc.Generate(context.Background(), uuid.New(), domain.TaskGrammar, "")
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("error = %v, want upstream error", err)
	}
	if f.exercises.created != 0 {
		t.Error("record created despite generation failure")
	}
}

func TestGenerate_MalformedTextIsDegradedNotFailed(t *testing.T) {
	f := newFixture(&mockClient{taskText: "<task><title>Nur Titel</title></task>"})

	rec, err := f.svc.Generate(context.Background(), uuid.New(), domain.TaskGrammar, "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !rec.Degraded() {
		t.Fatal("record with missing required tags not marked degraded")
	}
	if rec.ParsedTask["title"] != "Nur Titel" {
		t.Errorf("recovered fields lost: %v", rec.ParsedTask)
	}
	if f.exercises.created != 1 {
		t.Error("degraded record not persisted")
	}
}

func TestSubmit_HappyPath(t *testing.T) {
	f := newFixture(&mockClient{taskText: wellFormedTask, feedbackText: wellFormedFeedback, score: 0.85})
	userID := uuid.New()

	rec, err := f.svc.Generate(context.Background(), userID, domain.TaskGrammar, "")
	if err != nil {
		t.Fatal(err)
	}

	graded, err := f.svc.Submit(context.Background(), userID, rec.ID, "dem Mann")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if graded.Status != domain.StatusCompleted {
		t.Errorf("status = %q, want completed", graded.Status)
	}
	if graded.Score == nil || *graded.Score != 0.85 {
		t.Errorf("score = %v, want 0.85", graded.Score)
	}
	if graded.ParsedFeedback["overall"] == "" {
		t.Error("feedback not parsed")
	}
	if graded.SubmissionParsed["text"] != "dem Mann" {
		t.Errorf("free text submission not wrapped: %v", graded.SubmissionParsed)
	}
	if f.profiles.progress != 10 {
		t.Errorf("progress = %d, want 10", f.profiles.progress)
	}
	if f.xp.total != 42 {
		t.Errorf("xp = %d, want 42", f.xp.total)
	}
}

func TestSubmit_JSONSubmissionParsed(t *testing.T) {
	f := newFixture(&mockClient{taskText: wellFormedTask, feedbackText: wellFormedFeedback, score: 0.5})
	userID := uuid.New()

	rec, _ := f.svc.Generate(context.Background(), userID, domain.TaskGrammar, "")
	graded, err := f.svc.Submit(context.Background(), userID, rec.ID, `{"1":"dem","2":"der"}`)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if graded.SubmissionParsed["1"] != "dem" || graded.SubmissionParsed["2"] != "der" {
		t.Errorf("submission fields = %v", graded.SubmissionParsed)
	}
	if graded.Status != domain.StatusPartial {
		t.Errorf("status = %q, want partial", graded.Status)
	}
	if f.profiles.errCount != 1 {
		t.Errorf("error count = %d, want 1", f.profiles.errCount)
	}
}

func TestSubmit_UnknownExercise(t *testing.T) {
	f := newFixture(&mockClient{})

	_, err := f.svc.Submit(context.Background(), uuid.New(), uuid.New(), "answer")
	if !errors.Is(err, domain.ErrExerciseNotFound) {
		t.Errorf("error = %v, want exercise not found", err)
	}
}

func TestSubmit_OtherUsersExercise(t *testing.T) {
	f := newFixture(&mockClient{taskText: wellFormedTask})
	owner := uuid.New()

	rec, _ := f.svc.Generate(context.Background(), owner, domain.TaskGrammar, "")

	_, err := f.svc.Submit(context.Background(), uuid.New(), rec.ID, "answer")
	if !errors.Is(err, domain.ErrExerciseNotFound) {
		t.Errorf("error = %v, want exercise not found for other user", err)
	}
}

func TestSubmit_GradingFailureKeepsRecordOpen(t *testing.T) {
	client := &mockClient{taskText: wellFormedTask}
	f := newFixture(client)
	userID := uuid.New()

	rec, _ := f.svc.Generate(context.Background(), userID, domain.TaskGrammar, "")

	client.gradeErr = &generative.UpstreamError{Op: "grade_submission", Detail: "timeout"}
	_, err := f.svc.Submit(context.Background(), userID, rec.ID, "erster Versuch")
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("error = %v, want upstream error", err)
	}

	stored, _ := f.svc.Get(context.Background(), userID, rec.ID)
	if stored.Status != domain.StatusInProgress {
		t.Fatalf("status = %q, want in_progress after grading failure", stored.Status)
	}
	if stored.SubmissionRaw != "erster Versuch" {
		t.Errorf("submission not saved: %q", stored.SubmissionRaw)
	}
	if f.profiles.progress != 0 || f.profiles.errCount != 0 {
		t.Error("counters changed by a failed grading")
	}

	// Resubmission succeeds once the upstream recovers
	client.gradeErr = nil
	client.feedbackText = wellFormedFeedback
	client.score = 0.7
	graded, err := f.svc.Submit(context.Background(), userID, rec.ID, "zweiter Versuch")
	if err != nil {
		t.Fatalf("resubmit error = %v", err)
	}
	if graded.Status != domain.StatusCompleted {
		t.Errorf("status = %q, want completed", graded.Status)
	}
}

func TestSubmit_AlreadyResolved(t *testing.T) {
	f := newFixture(&mockClient{taskText: wellFormedTask, feedbackText: wellFormedFeedback, score: 0.9})
	userID := uuid.New()

	rec, _ := f.svc.Generate(context.Background(), userID, domain.TaskGrammar, "")
	if _, err := f.svc.Submit(context.Background(), userID, rec.ID, "answer"); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Submit(context.Background(), userID, rec.ID, "again")
	if !errors.Is(err, domain.ErrExerciseResolved) {
		t.Errorf("error = %v, want exercise resolved", err)
	}
	if f.profiles.progress != 10 {
		t.Errorf("progress = %d, counters applied more than once", f.profiles.progress)
	}
}

func TestSubmit_ConcurrentSubmissionsResolveOnce(t *testing.T) {
	f := newFixture(&mockClient{taskText: wellFormedTask, feedbackText: wellFormedFeedback, score: 0.8})
	userID := uuid.New()

	rec, _ := f.svc.Generate(context.Background(), userID, domain.TaskGrammar, "")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Submit(context.Background(), userID, rec.ID, "answer")
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrExerciseResolved):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins = %d, conflicts = %d; want exactly one of each", wins, conflicts)
	}
	if f.profiles.progress != 10 {
		t.Errorf("progress = %d, want 10 applied exactly once", f.profiles.progress)
	}
	if f.xp.adds != 1 {
		t.Errorf("xp awarded %d times, want once", f.xp.adds)
	}
}

func TestSubmit_MalformedFeedbackStillScores(t *testing.T) {
	f := newFixture(&mockClient{
		taskText:     wellFormedTask,
		feedbackText: "<feedback><corrections>2. dem</corrections></feedback>",
		score:        0.65,
	})
	userID := uuid.New()

	rec, _ := f.svc.Generate(context.Background(), userID, domain.TaskGrammar, "")
	graded, err := f.svc.Submit(context.Background(), userID, rec.ID, "answer")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if graded.Status != domain.StatusCompleted {
		t.Errorf("status = %q, want completed despite feedback parse problem", graded.Status)
	}
	if !graded.Degraded() {
		t.Error("missing overall tag not recorded as diagnostic")
	}
	if graded.ParsedFeedback["corrections"] == "" {
		t.Error("recovered feedback fields lost")
	}
}

func TestRecommend(t *testing.T) {
	f := newFixture(&mockClient{recommendText: "Übe Dativ-Präpositionen."})
	userID := uuid.New()

	rec, err := f.svc.Recommend(context.Background(), userID)
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if rec.GeneratedText != "Übe Dativ-Präpositionen." {
		t.Errorf("text = %q", rec.GeneratedText)
	}
	if len(f.recs.records) != 1 {
		t.Errorf("stored %d recommendations, want 1", len(f.recs.records))
	}
}

func TestRecommend_UpstreamFailure(t *testing.T) {
	f := newFixture(&mockClient{recommendErr: &generative.UpstreamError{Op: "generate_recommendations", Detail: "status 500"}})

	_, err := f.svc.Recommend(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrUpstream) {
		t.Errorf("error = %v, want upstream error", err)
	}
	if len(f.recs.records) != 0 {
		t.Error("recommendation stored despite failure")
	}
}

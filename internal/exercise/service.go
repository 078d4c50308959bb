// Package exercise drives the exercise lifecycle: task generation,
// submission grading, and the progression side effects of a grade.
package exercise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/TonniChopper/DeutschLearner/internal/audit"
	"github.com/TonniChopper/DeutschLearner/internal/domain"
	"github.com/TonniChopper/DeutschLearner/internal/generative"
	"github.com/TonniChopper/DeutschLearner/internal/parser"
	"github.com/TonniChopper/DeutschLearner/internal/profile"
)

// defaultListLimit bounds history listings when the caller passes none
const defaultListLimit = 50

// Service handles exercise business logic
type Service struct {
	exercises       domain.ExerciseRepository
	recommendations domain.RecommendationRepository
	profiles        *profile.Service
	client          generative.Client
	sink            audit.Sink
	logger          *slog.Logger
}

// NewService creates a new exercise service
func NewService(
	exercises domain.ExerciseRepository,
	recommendations domain.RecommendationRepository,
	profiles *profile.Service,
	client generative.Client,
	sink audit.Sink,
	logger *slog.Logger,
) *Service {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		exercises:       exercises,
		recommendations: recommendations,
		profiles:        profiles,
		client:          client,
		sink:            sink,
		logger:          logger,
	}
}

// Generate creates a new exercise for the user. No record is created
// when the generative call fails; parse problems in the generated text
// are non-fatal and recorded on the exercise as diagnostics.
func (s *Service) Generate(ctx context.Context, userID uuid.UUID, taskType domain.TaskType, difficulty string) (*domain.ExerciseRecord, error) {
	if !taskType.Valid() {
		return nil, fmt.Errorf("%w: unknown task type %q", domain.ErrValidation, taskType)
	}
	if difficulty != "" && !domain.ValidLanguageLevel(difficulty) {
		return nil, fmt.Errorf("%w: unknown difficulty %q", domain.ErrValidation, difficulty)
	}

	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GenerateTask(ctx, profileContext(p), taskType, difficulty)
	if err != nil {
		s.sink.RecordUpstreamFailure(ctx, "generate_task", userID, err.Error(), upstreamRaw(err))
		return nil, err
	}

	rec := domain.NewExerciseRecord(userID, taskType, result.PromptUsed, result.Text)

	task, perr := parser.ParseTask(taskType, result.Text)
	if task != nil {
		rec.ParsedTask = task.Fields
	}
	if perr != nil {
		rec.AppendParseError(perr.Error())
		s.sink.RecordParseError(ctx, "parse_task", userID, perr.Error(), result.Text)
	}

	if err := s.exercises.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create exercise: %w", err)
	}

	s.logger.Info("generated exercise",
		"exercise_id", rec.ID,
		"user_id", userID,
		"task_type", taskType,
		"degraded", rec.Degraded(),
	)

	return rec, nil
}

// Submit grades a learner submission against the stored task.
//
// A grading failure keeps the record in progress with the submission
// saved, so the learner can resubmit. A successful grade moves the
// record to its terminal status exactly once: a concurrent submission
// that already resolved the record surfaces as ErrExerciseResolved and
// applies no progression side effects.
func (s *Service) Submit(ctx context.Context, userID, exerciseID uuid.UUID, submission string) (*domain.ExerciseRecord, error) {
	if strings.TrimSpace(submission) == "" {
		return nil, fmt.Errorf("%w: submission is empty", domain.ErrValidation)
	}

	rec, err := s.exercises.GetForUser(ctx, userID, exerciseID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, domain.ErrExerciseResolved
	}
	if strings.TrimSpace(rec.GeneratedText) == "" {
		return nil, domain.ErrNoGeneratedTask
	}

	rec.SubmissionRaw = submission
	rec.SubmissionParsed = normalizeSubmission(submission)

	result, err := s.client.GradeSubmission(ctx, rec.GeneratedText, submission)
	if err != nil {
		s.sink.RecordUpstreamFailure(ctx, "grade_submission", userID, err.Error(), upstreamRaw(err))

		// Keep the record open with the submission saved so a later
		// resubmission can retry grading.
		rec.AppendParseError(fmt.Sprintf("grading failed: %v", err))
		if saveErr := s.exercises.UpdateIfInProgress(ctx, rec); saveErr != nil {
			s.logger.Warn("failed to save submission after grading failure",
				"exercise_id", rec.ID,
				"error", saveErr,
			)
		}
		return nil, err
	}

	rec.FeedbackText = result.FeedbackText

	feedback, perr := parser.ParseFeedback(result.FeedbackText)
	if feedback != nil {
		rec.ParsedFeedback = feedback.Fields
	}
	if perr != nil {
		rec.AppendParseError(perr.Error())
		s.sink.RecordParseError(ctx, "parse_feedback", userID, perr.Error(), result.FeedbackText)
	}

	rec.ApplyScore(result.Score)

	if err := s.exercises.UpdateIfInProgress(ctx, rec); err != nil {
		return nil, err
	}

	// Progression side effects run once, only for the submission that
	// won the update. Their failure after the committed grade is logged
	// rather than surfaced.
	if err := s.profiles.ApplyExerciseOutcome(ctx, userID, rec.Status, result.Score); err != nil {
		s.logger.Warn("failed to apply exercise outcome to profile",
			"exercise_id", rec.ID,
			"user_id", userID,
			"error", err,
		)
	}

	s.logger.Info("graded submission",
		"exercise_id", rec.ID,
		"user_id", userID,
		"score", result.Score,
		"status", rec.Status,
	)

	return rec, nil
}

// Recommend generates personalized study recommendations and stores
// them for later listing
func (s *Service) Recommend(ctx context.Context, userID uuid.UUID) (*domain.Recommendation, error) {
	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GenerateRecommendations(ctx, profileContext(p))
	if err != nil {
		s.sink.RecordUpstreamFailure(ctx, "generate_recommendations", userID, err.Error(), upstreamRaw(err))
		return nil, err
	}

	rec := domain.NewRecommendation(userID, result.PromptUsed, result.Text)
	if err := s.recommendations.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create recommendation: %w", err)
	}

	return rec, nil
}

// ListRecommendations returns the user's stored recommendations, newest first
func (s *Service) ListRecommendations(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Recommendation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.recommendations.ListForUser(ctx, userID, limit)
}

// Get returns one of the user's exercises
func (s *Service) Get(ctx context.Context, userID, exerciseID uuid.UUID) (*domain.ExerciseRecord, error) {
	return s.exercises.GetForUser(ctx, userID, exerciseID)
}

// List returns the user's exercises, newest first
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ExerciseRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.exercises.ListForUser(ctx, userID, limit)
}

// normalizeSubmission decodes a JSON object submission into fields, or
// wraps free text under "text" so downstream always sees a map
func normalizeSubmission(submission string) map[string]string {
	var fields map[string]string
	if err := json.Unmarshal([]byte(submission), &fields); err == nil && fields != nil {
		return fields
	}
	return map[string]string{"text": submission}
}

// profileContext projects a profile into the generative prompt context
func profileContext(p *domain.Profile) generative.ProfileContext {
	return generative.ProfileContext{
		LanguageLevel:      p.LanguageLevel,
		Progress:           p.Progress,
		Errors:             p.Errors,
		PreferredTaskTypes: p.PreferredTaskTypes,
	}
}

// upstreamRaw pulls the raw model payload out of an upstream error, if any
func upstreamRaw(err error) string {
	var ue *generative.UpstreamError
	if errors.As(err, &ue) {
		return ue.Raw
	}
	return ""
}

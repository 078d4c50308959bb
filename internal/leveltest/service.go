// Package leveltest drives the level test lifecycle: starting a
// placement or progress test, evaluating submitted answers, and
// applying the determined level to the learner profile.
package leveltest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/TonniChopper/DeutschLearner/internal/audit"
	"github.com/TonniChopper/DeutschLearner/internal/domain"
	"github.com/TonniChopper/DeutschLearner/internal/generative"
	"github.com/TonniChopper/DeutschLearner/internal/profile"
)

// defaultHistoryLimit bounds history listings when the caller passes none
const defaultHistoryLimit = 20

// Service handles level test business logic
type Service struct {
	tests    domain.LevelTestRepository
	profiles *profile.Service
	client   generative.Client
	sink     audit.Sink
	logger   *slog.Logger
}

// NewService creates a new level test service
func NewService(
	tests domain.LevelTestRepository,
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
		tests:    tests,
		profiles: profiles,
		client:   client,
		sink:     sink,
		logger:   logger,
	}
}

// Start begins a new level test for the user. An empty test type is
// derived from the profile: initial until the first test completes,
// periodic afterwards. At most one test per user may be active; a
// second start surfaces as ErrActiveTestExists without touching the
// generative service.
func (s *Service) Start(ctx context.Context, userID uuid.UUID, testType domain.TestType) (*domain.LevelTestRecord, error) {
	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if testType == "" {
		testType = domain.TestPeriodic
		if !p.InitialTestCompleted {
			testType = domain.TestInitial
		}
	}
	if !testType.Valid() {
		return nil, fmt.Errorf("%w: unknown test type %q", domain.ErrValidation, testType)
	}

	if active, err := s.tests.FindActive(ctx, userID); err == nil && active != nil {
		return nil, domain.ErrActiveTestExists
	} else if err != nil && !errors.Is(err, domain.ErrLevelTestNotFound) {
		return nil, err
	}

	result, err := s.client.GenerateLevelTest(ctx, testType)
	if err != nil {
		s.sink.RecordUpstreamFailure(ctx, "generate_level_test", userID, err.Error(), upstreamRaw(err))
		return nil, err
	}

	rec := domain.NewLevelTestRecord(userID, testType, result.PromptUsed, result.Text)
	if err := s.tests.Create(ctx, rec); err != nil {
		// A concurrent start may have won between the lookup and here.
		return nil, err
	}

	s.logger.Info("started level test",
		"test_id", rec.ID,
		"user_id", userID,
		"test_type", testType,
	)

	return rec, nil
}

// Submit evaluates the user's answers for their active test.
//
// An evaluation failure leaves the test active so the answers can be
// resubmitted. A successful evaluation completes the test exactly once
// and applies the determined level to the profile; the profile update
// failing after the committed completion is logged, not surfaced.
func (s *Service) Submit(ctx context.Context, userID, testID uuid.UUID, answers map[string]string) (*domain.LevelTestRecord, error) {
	if len(answers) == 0 {
		return nil, fmt.Errorf("%w: no answers submitted", domain.ErrValidation)
	}

	rec, err := s.tests.GetActiveForUser(ctx, userID, testID)
	if err != nil {
		return nil, err
	}

	result, err := s.client.EvaluateLevelTest(ctx, rec.GeneratedText, answers)
	if err != nil {
		s.sink.RecordUpstreamFailure(ctx, "evaluate_level_test", userID, err.Error(), upstreamRaw(err))
		return nil, err
	}

	rec.Complete(answers, result.EvaluationText, result.DeterminedLevel, result.TotalScore)

	if err := s.tests.CompleteIfActive(ctx, rec); err != nil {
		return nil, err
	}

	completedAt := time.Now()
	if rec.CompletedAt != nil {
		completedAt = *rec.CompletedAt
	}
	if err := s.profiles.ApplyLevelTestResult(ctx, userID, rec.DeterminedLevel, rec.TestType, completedAt); err != nil {
		s.logger.Warn("failed to apply level test result to profile",
			"test_id", rec.ID,
			"user_id", userID,
			"level", rec.DeterminedLevel,
			"error", err,
		)
	}

	s.logger.Info("completed level test",
		"test_id", rec.ID,
		"user_id", userID,
		"level", rec.DeterminedLevel,
		"total_score", rec.TotalScore,
	)

	return rec, nil
}

// Current returns the user's active test, or ErrLevelTestNotFound
func (s *Service) Current(ctx context.Context, userID uuid.UUID) (*domain.LevelTestRecord, error) {
	return s.tests.FindActive(ctx, userID)
}

// History returns the user's completed tests, newest first
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LevelTestRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.tests.ListCompleted(ctx, userID, limit)
}

// UserStatus summarizes where the user stands in the level test flow
type UserStatus struct {
	LanguageLevel        string
	InitialTestCompleted bool
	LastLevelTestDate    *time.Time
	ActiveTestID         *uuid.UUID
}

// Status reports the user's level test standing
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (*UserStatus, error) {
	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	status := &UserStatus{
		LanguageLevel:        p.LanguageLevel,
		InitialTestCompleted: p.InitialTestCompleted,
		LastLevelTestDate:    p.LastLevelTestDate,
	}

	active, err := s.tests.FindActive(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrLevelTestNotFound) {
		return nil, err
	}
	if active != nil {
		status.ActiveTestID = &active.ID
	}

	return status, nil
}

// upstreamRaw pulls the raw model payload out of an upstream error, if any
func upstreamRaw(err error) string {
	var ue *generative.UpstreamError
	if errors.As(err, &ue) {
		return ue.Raw
	}
	return ""
}

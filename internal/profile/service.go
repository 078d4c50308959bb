// Package profile handles per-user learning profile logic: counter
// updates after grading, level test results, and the best-effort
// experience award.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/TonniChopper/DeutschLearner/internal/domain"
)

// progressPerCompletion is the progress awarded for a completed exercise
const progressPerCompletion = 10

// Service handles profile business logic
type Service struct {
	profiles   domain.ProfileRepository
	experience domain.ExperienceRepository
	logger     *slog.Logger
}

// NewService creates a new profile service
func NewService(profiles domain.ProfileRepository, experience domain.ExperienceRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{profiles: profiles, experience: experience, logger: logger}
}

// Get returns the user's profile, creating an empty one on first access
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	p, err := s.profiles.Get(ctx, userID)
	if errors.Is(err, domain.ErrProfileNotFound) {
		p = domain.NewProfile(userID)
		if err := s.profiles.Save(ctx, p); err != nil {
			return nil, fmt.Errorf("create profile: %w", err)
		}
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePreferences replaces the user's preferred task types
func (s *Service) UpdatePreferences(ctx context.Context, userID uuid.UUID, taskTypes []domain.TaskType) (*domain.Profile, error) {
	for _, t := range taskTypes {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown task type %q", domain.ErrValidation, t)
		}
	}

	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	p.PreferredTaskTypes = taskTypes
	p.UpdatedAt = time.Now()
	if err := s.profiles.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return p, nil
}

// ApplyExerciseOutcome updates the profile counters for a graded
// exercise and awards experience. The counter update is required; the
// experience award is best-effort and its failure is only logged.
func (s *Service) ApplyExerciseOutcome(ctx context.Context, userID uuid.UUID, status domain.CompletionStatus, score float64) error {
	if status == domain.StatusCompleted {
		if err := s.profiles.IncrementProgress(ctx, userID, progressPerCompletion); err != nil {
			return fmt.Errorf("increment progress: %w", err)
		}
	} else {
		if err := s.profiles.IncrementErrors(ctx, userID, 1); err != nil {
			return fmt.Errorf("increment errors: %w", err)
		}
	}

	if err := s.experience.Add(ctx, userID, domain.XPForScore(score)); err != nil {
		s.logger.Warn("failed to award experience",
			"user_id", userID,
			"score", score,
			"error", err,
		)
	}

	return nil
}

// ApplyLevelTestResult records a completed level test on the profile
func (s *Service) ApplyLevelTestResult(ctx context.Context, userID uuid.UUID, level string, testType domain.TestType, at time.Time) error {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}

	p.RecordTestResult(level, testType, at)
	p.UpdatedAt = time.Now()
	if err := s.profiles.Save(ctx, p); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// Experience returns the user's experience aggregate, zero-valued when
// nothing has been awarded yet
func (s *Service) Experience(ctx context.Context, userID uuid.UUID) (*domain.Experience, error) {
	xp, err := s.experience.Get(ctx, userID)
	if errors.Is(err, domain.ErrExperienceNotFound) {
		return &domain.Experience{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return xp, nil
}

package domain

import (
	"context"

	"github.com/google/uuid"
)

// ExerciseRepository persists exercise records.
//
// UpdateIfInProgress is the concurrency guard for grading: it must apply
// the mutable fields atomically only while the stored record is still in
// progress, and return ErrExerciseResolved when a concurrent submission
// already moved the record to a terminal state.
type ExerciseRepository interface {
	Create(ctx context.Context, rec *ExerciseRecord) error
	GetForUser(ctx context.Context, userID, id uuid.UUID) (*ExerciseRecord, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*ExerciseRecord, error)
	UpdateIfInProgress(ctx context.Context, rec *ExerciseRecord) error
}

// LevelTestRepository persists level test records.
//
// Create must fail with ErrActiveTestExists when the user already has an
// active test (enforced by the store, not just the service, so concurrent
// starts cannot both succeed). CompleteIfActive must flip active to false
// atomically and return ErrLevelTestNotFound when the test was already
// completed.
type LevelTestRepository interface {
	Create(ctx context.Context, rec *LevelTestRecord) error
	GetActiveForUser(ctx context.Context, userID, id uuid.UUID) (*LevelTestRecord, error)
	FindActive(ctx context.Context, userID uuid.UUID) (*LevelTestRecord, error)
	ListCompleted(ctx context.Context, userID uuid.UUID, limit int) ([]*LevelTestRecord, error)
	CompleteIfActive(ctx context.Context, rec *LevelTestRecord) error
}

// ProfileRepository reads and updates the per-user account profile.
// Counter increments are atomic read-modify-writes in the store.
type ProfileRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*Profile, error)
	Save(ctx context.Context, p *Profile) error
	IncrementProgress(ctx context.Context, userID uuid.UUID, delta int) error
	IncrementErrors(ctx context.Context, userID uuid.UUID, delta int) error
}

// ExperienceRepository updates the per-user experience aggregate
type ExperienceRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*Experience, error)
	Add(ctx context.Context, userID uuid.UUID, xp int) error
}

// RecommendationRepository persists generated recommendations
type RecommendationRepository interface {
	Create(ctx context.Context, rec *Recommendation) error
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Recommendation, error)
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TonniChopper/DeutschLearner/internal/domain"
)

// ProfileRepository implements domain.ProfileRepository using PostgreSQL
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository creates a new ProfileRepository
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// Get retrieves a profile by user ID
func (r *ProfileRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	query := `
		SELECT user_id, name, surname, language_level, progress, errors,
			preferred_task_types, initial_test_completed, last_level_test_date, updated_at
		FROM profiles WHERE user_id = $1
	`
	var (
		p         domain.Profile
		taskTypes []byte
	)
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.Name, &p.Surname, &p.LanguageLevel, &p.Progress, &p.Errors,
		&taskTypes, &p.InitialTestCompleted, &p.LastLevelTestDate, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}

	if err := json.Unmarshal(taskTypes, &p.PreferredTaskTypes); err != nil {
		return nil, fmt.Errorf("unmarshal preferred_task_types: %w", err)
	}
	if len(p.PreferredTaskTypes) == 0 {
		p.PreferredTaskTypes = nil
	}
	return &p, nil
}

// Save persists a profile (create or update). The counter columns are
// only ever changed by the increment statements; the update branch
// leaves them untouched.
func (r *ProfileRepository) Save(ctx context.Context, p *domain.Profile) error {
	taskTypes := p.PreferredTaskTypes
	if taskTypes == nil {
		taskTypes = []domain.TaskType{}
	}
	encoded, err := json.Marshal(taskTypes)
	if err != nil {
		return fmt.Errorf("marshal preferred_task_types: %w", err)
	}

	query := `
		INSERT INTO profiles (user_id, name, surname, language_level, progress, errors,
			preferred_task_types, initial_test_completed, last_level_test_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			name = EXCLUDED.name, surname = EXCLUDED.surname,
			language_level = EXCLUDED.language_level,
			preferred_task_types = EXCLUDED.preferred_task_types,
			initial_test_completed = EXCLUDED.initial_test_completed,
			last_level_test_date = EXCLUDED.last_level_test_date,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query,
		p.UserID, p.Name, p.Surname, p.LanguageLevel, p.Progress, p.Errors,
		encoded, p.InitialTestCompleted, p.LastLevelTestDate, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// IncrementProgress atomically adds delta to the progress counter
func (r *ProfileRepository) IncrementProgress(ctx context.Context, userID uuid.UUID, delta int) error {
	return r.increment(ctx, userID, "progress", delta)
}

// IncrementErrors atomically adds delta to the error counter
func (r *ProfileRepository) IncrementErrors(ctx context.Context, userID uuid.UUID, delta int) error {
	return r.increment(ctx, userID, "errors", delta)
}

func (r *ProfileRepository) increment(ctx context.Context, userID uuid.UUID, column string, delta int) error {
	// column is one of the two fixed counter names, never user input
	query := fmt.Sprintf(
		"UPDATE profiles SET %s = %s + $1, updated_at = $2 WHERE user_id = $3",
		column, column)
	tag, err := r.pool.Exec(ctx, query, delta, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProfileNotFound
	}
	return nil
}

// ExperienceRepository implements domain.ExperienceRepository using PostgreSQL
type ExperienceRepository struct {
	pool *pgxpool.Pool
}

// NewExperienceRepository creates a new ExperienceRepository
func NewExperienceRepository(pool *pgxpool.Pool) *ExperienceRepository {
	return &ExperienceRepository{pool: pool}
}

// Get retrieves the user's experience aggregate
func (r *ExperienceRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.Experience, error) {
	query := `
		SELECT user_id, total_xp, completed_exercises, updated_at
		FROM experience WHERE user_id = $1
	`
	var e domain.Experience
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&e.UserID, &e.TotalXP, &e.CompletedExercises, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrExperienceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan experience: %w", err)
	}
	return &e, nil
}

// Add atomically awards xp and counts one completed exercise
func (r *ExperienceRepository) Add(ctx context.Context, userID uuid.UUID, xp int) error {
	query := `
		INSERT INTO experience (user_id, total_xp, completed_exercises, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			total_xp = experience.total_xp + EXCLUDED.total_xp,
			completed_exercises = experience.completed_exercises + 1,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.pool.Exec(ctx, query, userID, xp, time.Now()); err != nil {
		return fmt.Errorf("add experience: %w", err)
	}
	return nil
}

// Ensure the repositories implement their domain interfaces
var (
	_ domain.ProfileRepository    = (*ProfileRepository)(nil)
	_ domain.ExperienceRepository = (*ExperienceRepository)(nil)
)

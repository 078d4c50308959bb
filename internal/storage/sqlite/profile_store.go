package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TonniChopper/DeutschLearner/internal/domain"
)

// ProfileStore implements domain.ProfileRepository backed by SQLite.
type ProfileStore struct {
	db *DB
}

// NewProfileStore creates a new SQLite-backed profile store.
func NewProfileStore(db *DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// Get retrieves a profile by user ID.
func (s *ProfileStore) Get(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	var (
		p            domain.Profile
		id           string
		taskTypes    string
		initialDone  int
		lastTestDate sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, name, surname, language_level, progress, errors,
			preferred_task_types, initial_test_completed, last_level_test_date, updated_at
		FROM profiles WHERE user_id = ?`,
		userID.String()).Scan(&id, &p.Name, &p.Surname, &p.LanguageLevel,
		&p.Progress, &p.Errors, &taskTypes, &initialDone, &lastTestDate, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}

	p.UserID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	p.InitialTestCompleted = initialDone != 0
	if lastTestDate.Valid {
		t := lastTestDate.Time
		p.LastLevelTestDate = &t
	}
	if err := json.Unmarshal([]byte(taskTypes), &p.PreferredTaskTypes); err != nil {
		return nil, fmt.Errorf("unmarshal preferred_task_types: %w", err)
	}
	if len(p.PreferredTaskTypes) == 0 {
		p.PreferredTaskTypes = nil
	}

	return &p, nil
}

// Save persists a profile (insert or update).
func (s *ProfileStore) Save(ctx context.Context, p *domain.Profile) error {
	taskTypes := p.PreferredTaskTypes
	if taskTypes == nil {
		taskTypes = []domain.TaskType{}
	}
	encoded, err := json.Marshal(taskTypes)
	if err != nil {
		return fmt.Errorf("marshal preferred_task_types: %w", err)
	}

	// The counter columns are only ever changed by the increment
	// statements; the update branch leaves them untouched.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, name, surname, language_level, progress, errors,
			preferred_task_types, initial_test_completed, last_level_test_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name=excluded.name, surname=excluded.surname,
			language_level=excluded.language_level,
			preferred_task_types=excluded.preferred_task_types,
			initial_test_completed=excluded.initial_test_completed,
			last_level_test_date=excluded.last_level_test_date,
			updated_at=excluded.updated_at`,
		p.UserID.String(), p.Name, p.Surname, p.LanguageLevel, p.Progress, p.Errors,
		string(encoded), boolInt(p.InitialTestCompleted),
		nullTime(p.LastLevelTestDate), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// IncrementProgress atomically adds delta to the progress counter.
func (s *ProfileStore) IncrementProgress(ctx context.Context, userID uuid.UUID, delta int) error {
	return s.increment(ctx, userID, "progress", delta)
}

// IncrementErrors atomically adds delta to the error counter.
func (s *ProfileStore) IncrementErrors(ctx context.Context, userID uuid.UUID, delta int) error {
	return s.increment(ctx, userID, "errors", delta)
}

func (s *ProfileStore) increment(ctx context.Context, userID uuid.UUID, column string, delta int) error {
	// column is one of the two fixed counter names, never user input
	result, err := s.db.ExecContext(ctx,
		"UPDATE profiles SET "+column+" = "+column+" + ?, updated_at = ? WHERE user_id = ?",
		delta, time.Now(), userID.String())
	if err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrProfileNotFound
	}
	return nil
}

// ExperienceStore implements domain.ExperienceRepository backed by SQLite.
type ExperienceStore struct {
	db *DB
}

// NewExperienceStore creates a new SQLite-backed experience store.
func NewExperienceStore(db *DB) *ExperienceStore {
	return &ExperienceStore{db: db}
}

// Get retrieves the user's experience aggregate.
func (s *ExperienceStore) Get(ctx context.Context, userID uuid.UUID) (*domain.Experience, error) {
	var (
		e  domain.Experience
		id string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, total_xp, completed_exercises, updated_at
		FROM experience WHERE user_id = ?`,
		userID.String()).Scan(&id, &e.TotalXP, &e.CompletedExercises, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrExperienceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan experience: %w", err)
	}

	e.UserID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	return &e, nil
}

// Add atomically awards xp and counts one completed exercise, creating
// the aggregate on first award.
func (s *ExperienceStore) Add(ctx context.Context, userID uuid.UUID, xp int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO experience (user_id, total_xp, completed_exercises, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total_xp = total_xp + excluded.total_xp,
			completed_exercises = completed_exercises + 1,
			updated_at = excluded.updated_at`,
		userID.String(), xp, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("add experience: %w", err)
	}
	return nil
}

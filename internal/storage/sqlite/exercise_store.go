package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/TonniChopper/DeutschLearner/internal/domain"
)

// ExerciseStore implements domain.ExerciseRepository backed by SQLite.
type ExerciseStore struct {
	db *DB
}

// NewExerciseStore creates a new SQLite-backed exercise store.
func NewExerciseStore(db *DB) *ExerciseStore {
	return &ExerciseStore{db: db}
}

const exerciseColumns = `id, user_id, task_type, prompt, generated_text, parsed_task,
	submission_raw, submission_parsed, feedback_text, parsed_feedback,
	score, status, parse_errors, created_at`

// Create inserts a new exercise record.
func (s *ExerciseStore) Create(ctx context.Context, rec *domain.ExerciseRecord) error {
	parsedTask, err := json.Marshal(fieldsOrEmpty(rec.ParsedTask))
	if err != nil {
		return fmt.Errorf("marshal parsed_task: %w", err)
	}
	parseErrors, err := json.Marshal(stringsOrEmpty(rec.ParseErrors))
	if err != nil {
		return fmt.Errorf("marshal parse_errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exercises (id, user_id, task_type, prompt, generated_text, parsed_task,
			submission_raw, submission_parsed, feedback_text, parsed_feedback,
			score, status, parse_errors, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '{}', ?, '{}', ?, ?, ?, ?)`,
		rec.ID.String(), rec.UserID.String(), string(rec.TaskType), rec.Prompt,
		rec.GeneratedText, string(parsedTask),
		rec.SubmissionRaw, rec.FeedbackText,
		nullScore(rec.Score), string(rec.Status), string(parseErrors), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert exercise: %w", err)
	}
	return nil
}

// GetForUser retrieves one of the user's exercises by ID.
func (s *ExerciseStore) GetForUser(ctx context.Context, userID, id uuid.UUID) (*domain.ExerciseRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+exerciseColumns+`
		FROM exercises WHERE id = ? AND user_id = ?`,
		id.String(), userID.String())
	return scanExercise(row)
}

// ListForUser returns the user's exercises, newest first.
func (s *ExerciseStore) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ExerciseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+exerciseColumns+`
		FROM exercises WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`,
		userID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list exercises: %w", err)
	}
	defer rows.Close()

	var out []*domain.ExerciseRecord
	for rows.Next() {
		rec, err := scanExercise(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateIfInProgress applies the mutable fields only while the stored
// record is still in progress. A lost race surfaces as
// domain.ErrExerciseResolved.
func (s *ExerciseStore) UpdateIfInProgress(ctx context.Context, rec *domain.ExerciseRecord) error {
	submissionParsed, err := json.Marshal(fieldsOrEmpty(rec.SubmissionParsed))
	if err != nil {
		return fmt.Errorf("marshal submission_parsed: %w", err)
	}
	parsedFeedback, err := json.Marshal(fieldsOrEmpty(rec.ParsedFeedback))
	if err != nil {
		return fmt.Errorf("marshal parsed_feedback: %w", err)
	}
	parseErrors, err := json.Marshal(stringsOrEmpty(rec.ParseErrors))
	if err != nil {
		return fmt.Errorf("marshal parse_errors: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE exercises SET
			submission_raw = ?, submission_parsed = ?,
			feedback_text = ?, parsed_feedback = ?,
			score = ?, status = ?, parse_errors = ?
		WHERE id = ? AND user_id = ? AND status = 'in_progress'`,
		rec.SubmissionRaw, string(submissionParsed),
		rec.FeedbackText, string(parsedFeedback),
		nullScore(rec.Score), string(rec.Status), string(parseErrors),
		rec.ID.String(), rec.UserID.String(),
	)
	if err != nil {
		return fmt.Errorf("update exercise: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		// Either the record is gone or a concurrent submission resolved it.
		var status string
		err := s.db.QueryRowContext(ctx,
			"SELECT status FROM exercises WHERE id = ? AND user_id = ?",
			rec.ID.String(), rec.UserID.String()).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrExerciseNotFound
		}
		if err != nil {
			return fmt.Errorf("check exercise status: %w", err)
		}
		return domain.ErrExerciseResolved
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExercise(row rowScanner) (*domain.ExerciseRecord, error) {
	var (
		rec              domain.ExerciseRecord
		id, userID       string
		taskType, status string
		parsedTask       string
		submissionParsed string
		parsedFeedback   string
		parseErrors      string
		score            sql.NullFloat64
	)

	err := row.Scan(&id, &userID, &taskType, &rec.Prompt, &rec.GeneratedText, &parsedTask,
		&rec.SubmissionRaw, &submissionParsed, &rec.FeedbackText, &parsedFeedback,
		&score, &status, &parseErrors, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrExerciseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan exercise: %w", err)
	}

	rec.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse exercise id: %w", err)
	}
	rec.UserID, err = uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	rec.TaskType = domain.TaskType(taskType)
	rec.Status = domain.CompletionStatus(status)
	if score.Valid {
		rec.Score = &score.Float64
	}

	if err := json.Unmarshal([]byte(parsedTask), &rec.ParsedTask); err != nil {
		return nil, fmt.Errorf("unmarshal parsed_task: %w", err)
	}
	if err := json.Unmarshal([]byte(submissionParsed), &rec.SubmissionParsed); err != nil {
		return nil, fmt.Errorf("unmarshal submission_parsed: %w", err)
	}
	if err := json.Unmarshal([]byte(parsedFeedback), &rec.ParsedFeedback); err != nil {
		return nil, fmt.Errorf("unmarshal parsed_feedback: %w", err)
	}
	if err := json.Unmarshal([]byte(parseErrors), &rec.ParseErrors); err != nil {
		return nil, fmt.Errorf("unmarshal parse_errors: %w", err)
	}
	if len(rec.ParsedTask) == 0 {
		rec.ParsedTask = nil
	}
	if len(rec.SubmissionParsed) == 0 {
		rec.SubmissionParsed = nil
	}
	if len(rec.ParsedFeedback) == 0 {
		rec.ParsedFeedback = nil
	}
	if len(rec.ParseErrors) == 0 {
		rec.ParseErrors = nil
	}

	return &rec, nil
}

func nullScore(score *float64) sql.NullFloat64 {
	if score == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *score, Valid: true}
}

func fieldsOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

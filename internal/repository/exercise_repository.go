package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TonniChopper/DeutschLearner/internal/domain"
)

// ExerciseRepository implements domain.ExerciseRepository using PostgreSQL
type ExerciseRepository struct {
	pool *pgxpool.Pool
}

// NewExerciseRepository creates a new ExerciseRepository
func NewExerciseRepository(pool *pgxpool.Pool) *ExerciseRepository {
	return &ExerciseRepository{pool: pool}
}

const exerciseColumns = `id, user_id, task_type, prompt, generated_text, parsed_task,
	submission_raw, submission_parsed, feedback_text, parsed_feedback,
	score, status, parse_errors, created_at`

// Create inserts a new exercise record
func (r *ExerciseRepository) Create(ctx context.Context, rec *domain.ExerciseRecord) error {
	parsedTask, parseErrors, err := marshalExerciseJSON(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO exercises (id, user_id, task_type, prompt, generated_text, parsed_task,
			submission_raw, feedback_text, score, status, parse_errors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.pool.Exec(ctx, query,
		rec.ID, rec.UserID, string(rec.TaskType), rec.Prompt, rec.GeneratedText, parsedTask,
		rec.SubmissionRaw, rec.FeedbackText, rec.Score, string(rec.Status), parseErrors, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert exercise: %w", err)
	}
	return nil
}

// GetForUser retrieves one of the user's exercises by ID
func (r *ExerciseRepository) GetForUser(ctx context.Context, userID, id uuid.UUID) (*domain.ExerciseRecord, error) {
	query := `SELECT ` + exerciseColumns + ` FROM exercises WHERE id = $1 AND user_id = $2`
	return scanExerciseRow(r.pool.QueryRow(ctx, query, id, userID))
}

// ListForUser returns the user's exercises, newest first
func (r *ExerciseRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ExerciseRecord, error) {
	query := `SELECT ` + exerciseColumns + ` FROM exercises
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list exercises: %w", err)
	}
	defer rows.Close()

	var out []*domain.ExerciseRecord
	for rows.Next() {
		rec, err := scanExerciseRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateIfInProgress applies the mutable fields only while the stored
// record is still in progress
func (r *ExerciseRepository) UpdateIfInProgress(ctx context.Context, rec *domain.ExerciseRecord) error {
	_, parseErrors, err := marshalExerciseJSON(rec)
	if err != nil {
		return err
	}
	submissionParsed, err := json.Marshal(mapOrEmpty(rec.SubmissionParsed))
	if err != nil {
		return fmt.Errorf("marshal submission_parsed: %w", err)
	}
	parsedFeedback, err := json.Marshal(mapOrEmpty(rec.ParsedFeedback))
	if err != nil {
		return fmt.Errorf("marshal parsed_feedback: %w", err)
	}

	query := `
		UPDATE exercises SET
			submission_raw = $1, submission_parsed = $2,
			feedback_text = $3, parsed_feedback = $4,
			score = $5, status = $6, parse_errors = $7
		WHERE id = $8 AND user_id = $9 AND status = 'in_progress'
	`
	tag, err := r.pool.Exec(ctx, query,
		rec.SubmissionRaw, submissionParsed,
		rec.FeedbackText, parsedFeedback,
		rec.Score, string(rec.Status), parseErrors,
		rec.ID, rec.UserID,
	)
	if err != nil {
		return fmt.Errorf("update exercise: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var status string
		err := r.pool.QueryRow(ctx,
			"SELECT status FROM exercises WHERE id = $1 AND user_id = $2",
			rec.ID, rec.UserID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrExerciseNotFound
		}
		if err != nil {
			return fmt.Errorf("check exercise status: %w", err)
		}
		return domain.ErrExerciseResolved
	}
	return nil
}

func marshalExerciseJSON(rec *domain.ExerciseRecord) (parsedTask, parseErrors []byte, err error) {
	parsedTask, err = json.Marshal(mapOrEmpty(rec.ParsedTask))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal parsed_task: %w", err)
	}
	errs := rec.ParseErrors
	if errs == nil {
		errs = []string{}
	}
	parseErrors, err = json.Marshal(errs)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal parse_errors: %w", err)
	}
	return parsedTask, parseErrors, nil
}

func scanExerciseRow(row pgx.Row) (*domain.ExerciseRecord, error) {
	var (
		rec              domain.ExerciseRecord
		taskType, status string
		parsedTask       []byte
		submissionParsed []byte
		parsedFeedback   []byte
		parseErrors      []byte
	)

	err := row.Scan(&rec.ID, &rec.UserID, &taskType, &rec.Prompt, &rec.GeneratedText, &parsedTask,
		&rec.SubmissionRaw, &submissionParsed, &rec.FeedbackText, &parsedFeedback,
		&rec.Score, &status, &parseErrors, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrExerciseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan exercise: %w", err)
	}

	rec.TaskType = domain.TaskType(taskType)
	rec.Status = domain.CompletionStatus(status)

	if err := json.Unmarshal(parsedTask, &rec.ParsedTask); err != nil {
		return nil, fmt.Errorf("unmarshal parsed_task: %w", err)
	}
	if err := json.Unmarshal(submissionParsed, &rec.SubmissionParsed); err != nil {
		return nil, fmt.Errorf("unmarshal submission_parsed: %w", err)
	}
	if err := json.Unmarshal(parsedFeedback, &rec.ParsedFeedback); err != nil {
		return nil, fmt.Errorf("unmarshal parsed_feedback: %w", err)
	}
	if err := json.Unmarshal(parseErrors, &rec.ParseErrors); err != nil {
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

func mapOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// Ensure ExerciseRepository implements domain.ExerciseRepository
var _ domain.ExerciseRepository = (*ExerciseRepository)(nil)

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TonniChopper/DeutschLearner/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations
const uniqueViolation = "23505"

// LevelTestRepository implements domain.LevelTestRepository using
// PostgreSQL. The single-active-test rule is enforced by a partial
// unique index on user_id.
type LevelTestRepository struct {
	pool *pgxpool.Pool
}

// NewLevelTestRepository creates a new LevelTestRepository
func NewLevelTestRepository(pool *pgxpool.Pool) *LevelTestRepository {
	return &LevelTestRepository{pool: pool}
}

const levelTestColumns = `id, user_id, test_type, prompt, generated_text, answers,
	evaluation_text, determined_level, total_score, active, started_at, completed_at`

// Create inserts a new active test
func (r *LevelTestRepository) Create(ctx context.Context, rec *domain.LevelTestRecord) error {
	answers, err := json.Marshal(mapOrEmpty(rec.Answers))
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	query := `
		INSERT INTO level_tests (id, user_id, test_type, prompt, generated_text, answers,
			evaluation_text, determined_level, total_score, active, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.pool.Exec(ctx, query,
		rec.ID, rec.UserID, string(rec.TestType), rec.Prompt, rec.GeneratedText, answers,
		rec.EvaluationText, rec.DeterminedLevel, rec.TotalScore,
		rec.Active, rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrActiveTestExists
		}
		return fmt.Errorf("insert level test: %w", err)
	}
	return nil
}

// GetActiveForUser retrieves the user's active test by ID
func (r *LevelTestRepository) GetActiveForUser(ctx context.Context, userID, id uuid.UUID) (*domain.LevelTestRecord, error) {
	query := `SELECT ` + levelTestColumns + ` FROM level_tests
		WHERE id = $1 AND user_id = $2 AND active`
	return scanLevelTestRow(r.pool.QueryRow(ctx, query, id, userID))
}

// FindActive retrieves the user's active test, if any
func (r *LevelTestRepository) FindActive(ctx context.Context, userID uuid.UUID) (*domain.LevelTestRecord, error) {
	query := `SELECT ` + levelTestColumns + ` FROM level_tests
		WHERE user_id = $1 AND active`
	return scanLevelTestRow(r.pool.QueryRow(ctx, query, userID))
}

// ListCompleted returns the user's completed tests, newest first
func (r *LevelTestRepository) ListCompleted(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LevelTestRecord, error) {
	query := `SELECT ` + levelTestColumns + ` FROM level_tests
		WHERE user_id = $1 AND NOT active ORDER BY started_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list level tests: %w", err)
	}
	defer rows.Close()

	var out []*domain.LevelTestRecord
	for rows.Next() {
		rec, err := scanLevelTestRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CompleteIfActive flips the test to completed only while it is still active
func (r *LevelTestRepository) CompleteIfActive(ctx context.Context, rec *domain.LevelTestRecord) error {
	answers, err := json.Marshal(mapOrEmpty(rec.Answers))
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	query := `
		UPDATE level_tests SET
			answers = $1, evaluation_text = $2, determined_level = $3,
			total_score = $4, active = FALSE, completed_at = $5
		WHERE id = $6 AND user_id = $7 AND active
	`
	tag, err := r.pool.Exec(ctx, query,
		answers, rec.EvaluationText, rec.DeterminedLevel,
		rec.TotalScore, rec.CompletedAt,
		rec.ID, rec.UserID,
	)
	if err != nil {
		return fmt.Errorf("complete level test: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLevelTestNotFound
	}
	return nil
}

func scanLevelTestRow(row pgx.Row) (*domain.LevelTestRecord, error) {
	var (
		rec      domain.LevelTestRecord
		testType string
		answers  []byte
	)

	err := row.Scan(&rec.ID, &rec.UserID, &testType, &rec.Prompt, &rec.GeneratedText, &answers,
		&rec.EvaluationText, &rec.DeterminedLevel, &rec.TotalScore,
		&rec.Active, &rec.StartedAt, &rec.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrLevelTestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan level test: %w", err)
	}

	rec.TestType = domain.TestType(testType)
	if err := json.Unmarshal(answers, &rec.Answers); err != nil {
		return nil, fmt.Errorf("unmarshal answers: %w", err)
	}
	if len(rec.Answers) == 0 {
		rec.Answers = nil
	}

	return &rec, nil
}

// Ensure LevelTestRepository implements domain.LevelTestRepository
var _ domain.LevelTestRepository = (*LevelTestRepository)(nil)

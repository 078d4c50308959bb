package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/TonniChopper/DeutschLearner/internal/domain"
)

// LevelTestStore implements domain.LevelTestRepository backed by SQLite.
// The single-active-test rule is enforced by a partial unique index on
// user_id, so concurrent starts race at the insert, not in application
// code.
type LevelTestStore struct {
	db *DB
}

// NewLevelTestStore creates a new SQLite-backed level test store.
func NewLevelTestStore(db *DB) *LevelTestStore {
	return &LevelTestStore{db: db}
}

const levelTestColumns = `id, user_id, test_type, prompt, generated_text, answers,
	evaluation_text, determined_level, total_score, active, started_at, completed_at`

// Create inserts a new active test. A user with an active test gets
// domain.ErrActiveTestExists.
func (s *LevelTestStore) Create(ctx context.Context, rec *domain.LevelTestRecord) error {
	answers, err := json.Marshal(fieldsOrEmpty(rec.Answers))
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO level_tests (id, user_id, test_type, prompt, generated_text, answers,
			evaluation_text, determined_level, total_score, active, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.UserID.String(), string(rec.TestType), rec.Prompt,
		rec.GeneratedText, string(answers),
		rec.EvaluationText, rec.DeterminedLevel, rec.TotalScore,
		boolInt(rec.Active), rec.StartedAt, nullTime(rec.CompletedAt),
	)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return domain.ErrActiveTestExists
		}
		return fmt.Errorf("insert level test: %w", err)
	}
	return nil
}

// GetActiveForUser retrieves the user's active test by ID.
func (s *LevelTestStore) GetActiveForUser(ctx context.Context, userID, id uuid.UUID) (*domain.LevelTestRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+levelTestColumns+`
		FROM level_tests WHERE id = ? AND user_id = ? AND active = 1`,
		id.String(), userID.String())
	return scanLevelTest(row)
}

// FindActive retrieves the user's active test, if any.
func (s *LevelTestStore) FindActive(ctx context.Context, userID uuid.UUID) (*domain.LevelTestRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+levelTestColumns+`
		FROM level_tests WHERE user_id = ? AND active = 1`,
		userID.String())
	return scanLevelTest(row)
}

// ListCompleted returns the user's completed tests, newest first.
func (s *LevelTestStore) ListCompleted(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LevelTestRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+levelTestColumns+`
		FROM level_tests WHERE user_id = ? AND active = 0
		ORDER BY started_at DESC LIMIT ?`,
		userID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list level tests: %w", err)
	}
	defer rows.Close()

	var out []*domain.LevelTestRecord
	for rows.Next() {
		rec, err := scanLevelTest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CompleteIfActive flips the test to completed only while it is still
// active. A lost race surfaces as domain.ErrLevelTestNotFound.
func (s *LevelTestStore) CompleteIfActive(ctx context.Context, rec *domain.LevelTestRecord) error {
	answers, err := json.Marshal(fieldsOrEmpty(rec.Answers))
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE level_tests SET
			answers = ?, evaluation_text = ?, determined_level = ?,
			total_score = ?, active = 0, completed_at = ?
		WHERE id = ? AND user_id = ? AND active = 1`,
		string(answers), rec.EvaluationText, rec.DeterminedLevel,
		rec.TotalScore, nullTime(rec.CompletedAt),
		rec.ID.String(), rec.UserID.String(),
	)
	if err != nil {
		return fmt.Errorf("complete level test: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrLevelTestNotFound
	}
	return nil
}

func scanLevelTest(row rowScanner) (*domain.LevelTestRecord, error) {
	var (
		rec         domain.LevelTestRecord
		id, userID  string
		testType    string
		answers     string
		active      int
		completedAt sql.NullTime
	)

	err := row.Scan(&id, &userID, &testType, &rec.Prompt, &rec.GeneratedText, &answers,
		&rec.EvaluationText, &rec.DeterminedLevel, &rec.TotalScore,
		&active, &rec.StartedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLevelTestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan level test: %w", err)
	}

	rec.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse level test id: %w", err)
	}
	rec.UserID, err = uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	rec.TestType = domain.TestType(testType)
	rec.Active = active != 0
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}

	if err := json.Unmarshal([]byte(answers), &rec.Answers); err != nil {
		return nil, fmt.Errorf("unmarshal answers: %w", err)
	}
	if len(rec.Answers) == 0 {
		rec.Answers = nil
	}

	return &rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/TonniChopper/DeutschLearner/internal/domain"
)

// RecommendationStore implements domain.RecommendationRepository backed
// by SQLite.
type RecommendationStore struct {
	db *DB
}

// NewRecommendationStore creates a new SQLite-backed recommendation store.
func NewRecommendationStore(db *DB) *RecommendationStore {
	return &RecommendationStore{db: db}
}

// Create inserts a recommendation record.
func (s *RecommendationStore) Create(ctx context.Context, rec *domain.Recommendation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recommendations (id, user_id, prompt, generated_text, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.UserID.String(), rec.Prompt, rec.GeneratedText, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert recommendation: %w", err)
	}
	return nil
}

// ListForUser returns the user's recommendations, newest first.
func (s *RecommendationStore) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Recommendation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, prompt, generated_text, created_at
		FROM recommendations WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`,
		userID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Recommendation
	for rows.Next() {
		var (
			rec        domain.Recommendation
			id, userID string
		)
		if err := rows.Scan(&id, &userID, &rec.Prompt, &rec.GeneratedText, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse recommendation id: %w", err)
		}
		if rec.UserID, err = uuid.Parse(userID); err != nil {
			return nil, fmt.Errorf("parse user id: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TonniChopper/DeutschLearner/internal/domain"
)

// RecommendationRepository implements domain.RecommendationRepository
// using PostgreSQL
type RecommendationRepository struct {
	pool *pgxpool.Pool
}

// NewRecommendationRepository creates a new RecommendationRepository
func NewRecommendationRepository(pool *pgxpool.Pool) *RecommendationRepository {
	return &RecommendationRepository{pool: pool}
}

// Create inserts a recommendation record
func (r *RecommendationRepository) Create(ctx context.Context, rec *domain.Recommendation) error {
	query := `
		INSERT INTO recommendations (id, user_id, prompt, generated_text, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.UserID, rec.Prompt, rec.GeneratedText, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert recommendation: %w", err)
	}
	return nil
}

// ListForUser returns the user's recommendations, newest first
func (r *RecommendationRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Recommendation, error) {
	query := `
		SELECT id, user_id, prompt, generated_text, created_at
		FROM recommendations WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Recommendation
	for rows.Next() {
		var rec domain.Recommendation
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Prompt, &rec.GeneratedText, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Ensure RecommendationRepository implements domain.RecommendationRepository
var _ domain.RecommendationRepository = (*RecommendationRepository)(nil)

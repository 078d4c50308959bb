// Package repository provides the PostgreSQL persistence backend for
// multi-node deployments. It implements the domain repository
// interfaces on a pgx connection pool.
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool creates a pgx connection pool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// schema is the idempotent DDL for the PostgreSQL backend.
const schema = `
CREATE TABLE IF NOT EXISTS exercises (
	id                UUID PRIMARY KEY,
	user_id           UUID NOT NULL,
	task_type         TEXT NOT NULL,
	prompt            TEXT NOT NULL DEFAULT '',
	generated_text    TEXT NOT NULL DEFAULT '',
	parsed_task       JSONB NOT NULL DEFAULT '{}',
	submission_raw    TEXT NOT NULL DEFAULT '',
	submission_parsed JSONB NOT NULL DEFAULT '{}',
	feedback_text     TEXT NOT NULL DEFAULT '',
	parsed_feedback   JSONB NOT NULL DEFAULT '{}',
	score             DOUBLE PRECISION,
	status            TEXT NOT NULL DEFAULT 'in_progress',
	parse_errors      JSONB NOT NULL DEFAULT '[]',
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exercises_user_created
	ON exercises(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS level_tests (
	id               UUID PRIMARY KEY,
	user_id          UUID NOT NULL,
	test_type        TEXT NOT NULL,
	prompt           TEXT NOT NULL DEFAULT '',
	generated_text   TEXT NOT NULL DEFAULT '',
	answers          JSONB NOT NULL DEFAULT '{}',
	evaluation_text  TEXT NOT NULL DEFAULT '',
	determined_level TEXT NOT NULL DEFAULT '',
	total_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	started_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_level_tests_one_active
	ON level_tests(user_id) WHERE active;

CREATE INDEX IF NOT EXISTS idx_level_tests_user_started
	ON level_tests(user_id, started_at DESC);

CREATE TABLE IF NOT EXISTS profiles (
	user_id                UUID PRIMARY KEY,
	name                   TEXT NOT NULL DEFAULT '',
	surname                TEXT NOT NULL DEFAULT '',
	language_level         TEXT NOT NULL DEFAULT '',
	progress               INTEGER NOT NULL DEFAULT 0,
	errors                 INTEGER NOT NULL DEFAULT 0,
	preferred_task_types   JSONB NOT NULL DEFAULT '[]',
	initial_test_completed BOOLEAN NOT NULL DEFAULT FALSE,
	last_level_test_date   TIMESTAMPTZ,
	updated_at             TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS experience (
	user_id             UUID PRIMARY KEY,
	total_xp            INTEGER NOT NULL DEFAULT 0,
	completed_exercises INTEGER NOT NULL DEFAULT 0,
	updated_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS recommendations (
	id             UUID PRIMARY KEY,
	user_id        UUID NOT NULL,
	prompt         TEXT NOT NULL DEFAULT '',
	generated_text TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recommendations_user_created
	ON recommendations(user_id, created_at DESC);
`

// EnsureSchema applies the idempotent schema.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

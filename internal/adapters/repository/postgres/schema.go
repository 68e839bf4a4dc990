// Package postgres implements the authoritative score store and the durable
// idempotency ledger on PostgreSQL through pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/topkboard/pkg/logger"
)

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS user_scores (
	user_id    TEXT PRIMARY KEY,
	score      BIGINT NOT NULL DEFAULT 0 CHECK (score >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);
CREATE INDEX IF NOT EXISTS idx_user_scores_rank
	ON user_scores (score DESC, updated_at ASC, user_id COLLATE "C" ASC);
CREATE TABLE IF NOT EXISTS score_events (
	event_id        TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	delta           BIGINT NOT NULL CHECK (delta > 0),
	action_type     TEXT NOT NULL,
	action_token_id TEXT NOT NULL,
	source_id       TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	ingested_at     TIMESTAMPTZ NOT NULL,
	client_metadata JSONB,
	score_after     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_score_events_user ON score_events (user_id, ingested_at);
CREATE TABLE IF NOT EXISTS action_nonces (
	action_token_id     TEXT PRIMARY KEY,
	event_id            TEXT NOT NULL,
	expires_at          TIMESTAMPTZ NOT NULL,
	completed           BOOLEAN NOT NULL DEFAULT false,
	new_score           BIGINT NOT NULL DEFAULT 0,
	leaderboard_changed BOOLEAN NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS idx_action_nonces_expiry ON action_nonces (expires_at) WHERE completed;
`

// Open connects to PostgreSQL and ensures the schema exists.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, ErrNoDatabaseURL
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, createTablesSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Named("postgres").Info(ctx, "connected to Postgres")
	return pool, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/topkboard/internal/adapters/repository"
	"github.com/okian/topkboard/internal/domain/model"
)

const (
	insertEventSQL = `
INSERT INTO score_events (event_id, user_id, delta, action_type, action_token_id, source_id, created_at, ingested_at, client_metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (event_id) DO NOTHING`

	incrementSQL = `
INSERT INTO user_scores (user_id, score, updated_at)
VALUES ($1, $2, clock_timestamp())
ON CONFLICT (user_id) DO UPDATE
	SET score = user_scores.score + EXCLUDED.score,
	    updated_at = GREATEST(clock_timestamp(), user_scores.updated_at)
RETURNING score, updated_at`

	recordScoreAfterSQL = `UPDATE score_events SET score_after = $2 WHERE event_id = $1`

	replaySQL = `
SELECT e.score_after, s.updated_at
FROM score_events e JOIN user_scores s ON s.user_id = e.user_id
WHERE e.event_id = $1`

	scoreSQL = `SELECT user_id, score, updated_at FROM user_scores WHERE user_id = $1`

	scanSQL = `
SELECT user_id, score, updated_at FROM user_scores
ORDER BY score DESC, updated_at ASC, user_id COLLATE "C" ASC`

	countSQL = `SELECT count(*) FROM user_scores`
)

// Store implements repository.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

// NewStore wraps an open pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ApplyDelta appends the event and increments the score in one transaction.
// The increment is a single update-by-expression so concurrent events for the
// same user serialize on that user's row only.
func (s *Store) ApplyDelta(ctx context.Context, ev model.ScoreEvent) (repository.Applied, error) {
	if ev.EventID == "" || ev.UserID == "" || ev.Delta <= 0 {
		return repository.Applied{}, repository.ErrInvalidEvent
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return repository.Applied{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var metadata any
	if len(ev.ClientMetadata) > 0 {
		metadata = string(ev.ClientMetadata)
	}
	tag, err := tx.Exec(ctx, insertEventSQL,
		ev.EventID, ev.UserID, ev.Delta, ev.ActionType, ev.ActionTokenID, ev.SourceID,
		ev.CreatedAt, ev.IngestedAt, metadata)
	if err != nil {
		return repository.Applied{}, fmt.Errorf("insert event: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var (
			scoreAfter *int64
			updatedAt  time.Time
		)
		if err := tx.QueryRow(ctx, replaySQL, ev.EventID).Scan(&scoreAfter, &updatedAt); err != nil {
			return repository.Applied{}, fmt.Errorf("load replayed event: %w", err)
		}
		res := repository.Applied{UpdatedAt: updatedAt}
		if scoreAfter != nil {
			res.NewScore = *scoreAfter
		}
		return res, tx.Commit(ctx)
	}

	var res repository.Applied
	if err := tx.QueryRow(ctx, incrementSQL, ev.UserID, ev.Delta).Scan(&res.NewScore, &res.UpdatedAt); err != nil {
		return repository.Applied{}, fmt.Errorf("increment: %w", err)
	}
	if _, err := tx.Exec(ctx, recordScoreAfterSQL, ev.EventID, res.NewScore); err != nil {
		return repository.Applied{}, fmt.Errorf("record score: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return repository.Applied{}, fmt.Errorf("commit: %w", err)
	}
	res.Applied = true
	return res, nil
}

func (s *Store) Score(ctx context.Context, userID string) (model.UserScore, error) {
	var row model.UserScore
	err := s.pool.QueryRow(ctx, scoreSQL, userID).Scan(&row.UserID, &row.Score, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.UserScore{}, repository.ErrNotFound
	}
	if err != nil {
		return model.UserScore{}, fmt.Errorf("query score: %w", err)
	}
	return row, nil
}

func (s *Store) Scan(ctx context.Context, fn func(model.UserScore) error) error {
	rows, err := s.pool.Query(ctx, scanSQL)
	if err != nil {
		return fmt.Errorf("scan scores: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row model.UserScore
		if err := rows.Scan(&row.UserID, &row.Score, &row.UpdatedAt); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, countSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count scores: %w", err)
	}
	return n, nil
}

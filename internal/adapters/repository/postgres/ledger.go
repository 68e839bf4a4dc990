package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/topkboard/internal/domain/dedupe"
	"github.com/okian/topkboard/internal/domain/model"
)

const (
	// A record past its expiry is taken over by the new claim, completed or
	// not; a pending one was left behind by a submitter that never finished.
	claimSQL = `
INSERT INTO action_nonces (action_token_id, event_id, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (action_token_id) DO UPDATE
	SET event_id = EXCLUDED.event_id, expires_at = EXCLUDED.expires_at,
	    completed = false, new_score = 0, leaderboard_changed = false
	WHERE action_nonces.expires_at <= $4
RETURNING event_id`

	lookupSQL = `
SELECT event_id, completed, new_score, leaderboard_changed
FROM action_nonces WHERE action_token_id = $1`

	completeSQL = `
UPDATE action_nonces SET completed = true, new_score = $2, leaderboard_changed = $3
WHERE action_token_id = $1`

	releaseSQL = `DELETE FROM action_nonces WHERE action_token_id = $1 AND NOT completed`

	sweepSQL = `DELETE FROM action_nonces WHERE expires_at <= $1`

	sizeSQL = `SELECT count(*) FROM action_nonces`
)

// Ledger implements dedupe.Ledger on the action_nonces table so replay
// protection survives restarts and is shared by every replica.
type Ledger struct {
	pool    *pgxpool.Pool
	now     func() time.Time
	maxWait time.Duration
	size    atomic.Int64
}

var _ dedupe.Ledger = (*Ledger)(nil)

// NewLedger wraps an open pool.
func NewLedger(pool *pgxpool.Pool, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{pool: pool, now: now, maxWait: 10 * time.Second}
}

func (l *Ledger) Reserve(ctx context.Context, actionTokenID, eventID string, ttl time.Duration) (dedupe.Claim, error) {
	var claim dedupe.Claim

	op := func() error {
		now := l.now()
		var owner string
		err := l.pool.QueryRow(ctx, claimSQL, actionTokenID, eventID, now.Add(ttl), now).Scan(&owner)
		if err == nil {
			l.size.Add(1)
			claim = dedupe.Claim{Fresh: true, EventID: owner}
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return backoff.Permanent(fmt.Errorf("claim action token: %w", err))
		}

		var res model.IngestResult
		var completed bool
		err = l.pool.QueryRow(ctx, lookupSQL, actionTokenID).
			Scan(&res.EventID, &completed, &res.NewScore, &res.LeaderboardChanged)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// released between the two statements; claim again
			return errPending
		case err != nil:
			return backoff.Permanent(fmt.Errorf("lookup action token: %w", err))
		case !completed:
			return errPending
		}
		claim = dedupe.Claim{EventID: res.EventID, Result: res}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = l.maxWait

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return dedupe.Claim{}, ctxErr
		}
		return dedupe.Claim{}, err
	}
	return claim, nil
}

func (l *Ledger) Complete(ctx context.Context, actionTokenID string, result model.IngestResult) error {
	tag, err := l.pool.Exec(ctx, completeSQL, actionTokenID, result.NewScore, result.LeaderboardChanged)
	if err != nil {
		return fmt.Errorf("complete action token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dedupe.ErrUnknownAction
	}
	return nil
}

func (l *Ledger) Release(ctx context.Context, actionTokenID string) error {
	tag, err := l.pool.Exec(ctx, releaseSQL, actionTokenID)
	if err != nil {
		return fmt.Errorf("release action token: %w", err)
	}
	if tag.RowsAffected() > 0 {
		l.size.Add(-1)
	}
	return nil
}

func (l *Ledger) Sweep(ctx context.Context, now time.Time) (int, error) {
	tag, err := l.pool.Exec(ctx, sweepSQL, now)
	if err != nil {
		return 0, fmt.Errorf("sweep action tokens: %w", err)
	}
	var n int64
	if err := l.pool.QueryRow(ctx, sizeSQL).Scan(&n); err == nil {
		l.size.Store(n)
	}
	return int(tag.RowsAffected()), nil
}

// Size returns the record count observed at the last sweep plus local changes.
func (l *Ledger) Size() int64 {
	return l.size.Load()
}

// Package repository defines the authoritative score store interface and an
// in-memory implementation.
package repository

import (
	"context"
	"time"

	"github.com/okian/topkboard/internal/domain/model"
)

// Applied is the outcome of ApplyDelta.
type Applied struct {
	// NewScore is the user's score after the event. For a replayed event it
	// is the score recorded when the event was first applied.
	NewScore  int64
	UpdatedAt time.Time
	// Applied is false when the event id was already recorded; the score was
	// not changed.
	Applied bool
}

// Store is the single source of truth for user scores.
type Store interface {
	// ApplyDelta records ev and increments the user's score by ev.Delta in
	// one atomic transaction. Concurrent increments for the same user never
	// lose an update.
	ApplyDelta(ctx context.Context, ev model.ScoreEvent) (Applied, error)

	// Score returns the user's current score row.
	// Returns ErrNotFound if the user is unknown.
	Score(ctx context.Context, userID string) (model.UserScore, error)

	// Scan calls fn for every user in ranking order. Returning an error from
	// fn stops the scan.
	Scan(ctx context.Context, fn func(model.UserScore) error) error

	// Count returns the number of users with a score row.
	Count(ctx context.Context) (int, error)
}

// Package dedupe implements the idempotency ledger that records consumed
// action tokens and replays the outcome of their first submission.
package dedupe

import (
	"context"
	"time"

	"github.com/okian/topkboard/internal/domain/model"
	"github.com/okian/topkboard/pkg/logger"
	"github.com/okian/topkboard/pkg/metrics"
)

// Claim is the outcome of Reserve.
type Claim struct {
	// Fresh is true when the caller now owns the action token.
	Fresh bool
	// EventID is the event id bound to the token by its first submission.
	EventID string
	// Result holds the completed outcome of the first submission when
	// Fresh is false.
	Result model.IngestResult
}

// Ledger records consumed action identifiers.
type Ledger interface {
	// Reserve atomically checks whether actionTokenID was consumed and
	// records it if not. A duplicate of an in-flight submission waits until
	// that submission completes or is released; a released token is
	// claimed again by the waiter.
	Reserve(ctx context.Context, actionTokenID, eventID string, ttl time.Duration) (Claim, error)

	// Complete stores the result replayed to later duplicates.
	Complete(ctx context.Context, actionTokenID string, result model.IngestResult) error

	// Release forgets a reservation whose event was never applied so the
	// same token can be submitted again.
	Release(ctx context.Context, actionTokenID string) error

	// Sweep removes completed records that expired before now.
	Sweep(ctx context.Context, now time.Time) (int, error)

	Size() int64
}

// RunGC sweeps l every interval until ctx is done.
func RunGC(ctx context.Context, l Ledger, interval time.Duration, now func() time.Time) {
	if interval <= 0 {
		return
	}
	if now == nil {
		now = time.Now
	}
	log := logger.Named("ledger")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Sweep(ctx, now())
			if err != nil {
				log.Warn(ctx, "ledger sweep failed", logger.Error(err))
				continue
			}
			metrics.UpdateLedgerSize(l.Size())
			if n > 0 {
				log.Debug(ctx, "ledger swept", logger.Int("removed", n), logger.Int64("size", l.Size()))
			}
		}
	}
}

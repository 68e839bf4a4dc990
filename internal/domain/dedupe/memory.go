package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/topkboard/internal/domain/model"
)

type record struct {
	eventID   string
	expires   time.Time
	done      chan struct{}
	result    model.IngestResult
	completed bool
}

// inMemoryLedger implements Ledger with a mutex guarded map.
// For bounded mode (maxSize > 0) a full ledger rejects new tokens with
// ErrLedgerFull; records are never evicted before they expire.
type inMemoryLedger struct {
	mu      sync.Mutex
	records map[string]*record
	maxSize int
	size    atomic.Int64
	now     func() time.Time
}

// NewInMemoryLedger creates an in-memory ledger with configuration options.
func NewInMemoryLedger(opts ...Option) Ledger {
	l := &inMemoryLedger{
		records: make(map[string]*record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *inMemoryLedger) Reserve(ctx context.Context, actionTokenID, eventID string, ttl time.Duration) (Claim, error) {
	for {
		l.mu.Lock()
		now := l.now()
		rec, ok := l.records[actionTokenID]
		if ok && rec.completed && !now.Before(rec.expires) {
			l.remove(actionTokenID)
			ok = false
		}

		if !ok {
			if l.maxSize > 0 && len(l.records) >= l.maxSize {
				l.sweepLocked(now)
				if len(l.records) >= l.maxSize {
					l.mu.Unlock()
					return Claim{}, ErrLedgerFull
				}
			}
			l.records[actionTokenID] = &record{
				eventID: eventID,
				expires: now.Add(ttl),
				done:    make(chan struct{}),
			}
			l.size.Add(1)
			l.mu.Unlock()
			return Claim{Fresh: true, EventID: eventID}, nil
		}

		if rec.completed {
			claim := Claim{EventID: rec.eventID, Result: rec.result}
			l.mu.Unlock()
			return claim, nil
		}

		wait := rec.done
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return Claim{}, ctx.Err()
		case <-wait:
		}
	}
}

func (l *inMemoryLedger) Complete(_ context.Context, actionTokenID string, result model.IngestResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[actionTokenID]
	if !ok {
		return ErrUnknownAction
	}
	if rec.completed {
		return nil
	}
	rec.result = result
	rec.completed = true
	close(rec.done)
	return nil
}

func (l *inMemoryLedger) Release(_ context.Context, actionTokenID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[actionTokenID]
	if !ok || rec.completed {
		return nil
	}
	l.remove(actionTokenID)
	close(rec.done)
	return nil
}

func (l *inMemoryLedger) Sweep(_ context.Context, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(now), nil
}

// sweepLocked must be called with l.mu held.
func (l *inMemoryLedger) sweepLocked(now time.Time) int {
	removed := 0
	for id, rec := range l.records {
		if rec.completed && !now.Before(rec.expires) {
			l.remove(id)
			removed++
		}
	}
	return removed
}

// remove must be called with l.mu held.
func (l *inMemoryLedger) remove(id string) {
	delete(l.records, id)
	l.size.Add(-1)
}

func (l *inMemoryLedger) Size() int64 {
	return l.size.Load()
}

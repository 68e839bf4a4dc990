package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/okian/topkboard/internal/domain/model"
)

type eventRow struct {
	event      model.ScoreEvent
	scoreAfter int64
}

// MemoryStore implements Store in process memory. A single mutex plays the
// role of the transaction boundary.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]model.UserScore
	events map[string]eventRow
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		users:  make(map[string]model.UserScore),
		events: make(map[string]eventRow),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) ApplyDelta(ctx context.Context, ev model.ScoreEvent) (Applied, error) {
	if err := ctx.Err(); err != nil {
		return Applied{}, err
	}
	if ev.EventID == "" || ev.UserID == "" {
		return Applied{}, fmt.Errorf("%w: event id and user id are required", ErrInvalidEvent)
	}
	if ev.Delta <= 0 {
		return Applied{}, fmt.Errorf("%w: delta must be positive", ErrInvalidEvent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.events[ev.EventID]; ok {
		row := s.users[prior.event.UserID]
		return Applied{NewScore: prior.scoreAfter, UpdatedAt: row.UpdatedAt}, nil
	}

	row, ok := s.users[ev.UserID]
	if !ok {
		row = model.UserScore{UserID: ev.UserID}
	}
	row.Score += ev.Delta
	row.UpdatedAt = s.now()
	s.users[ev.UserID] = row
	s.events[ev.EventID] = eventRow{event: ev, scoreAfter: row.Score}

	return Applied{NewScore: row.Score, UpdatedAt: row.UpdatedAt, Applied: true}, nil
}

func (s *MemoryStore) Score(_ context.Context, userID string) (model.UserScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.users[userID]
	if !ok {
		return model.UserScore{}, ErrNotFound
	}
	return row, nil
}

func (s *MemoryStore) Scan(ctx context.Context, fn func(model.UserScore) error) error {
	s.mu.RLock()
	rows := make([]model.UserScore, 0, len(s.users))
	for _, row := range s.users {
		rows = append(rows, row)
	}
	s.mu.RUnlock()

	slices.SortFunc(rows, model.Compare)
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// Event returns a recorded event by id.
func (s *MemoryStore) Event(eventID string) (model.ScoreEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.events[eventID]
	return row.event, ok
}

// EventCount returns the number of recorded events.
func (s *MemoryStore) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Set overwrites a user's score row. It is the out-of-band administrative
// correction path and bypasses event recording.
func (s *MemoryStore) Set(row model.UserScore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[row.UserID] = row
}

// Package topk maintains the live top-K view over all known user scores.
//
// Writes go through a single mutex so version bumps are serialized; readers
// load the current snapshot from an atomic pointer and never block.
package topk

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/topkboard/internal/domain/model"
	"github.com/okian/topkboard/pkg/logger"
	"github.com/okian/topkboard/pkg/metrics"
)

// Change describes one snapshot version bump.
type Change struct {
	Prev model.Snapshot
	Cur  model.Snapshot
	// Full asks the publisher to attach the full snapshot, set when the
	// change comes from a rebuild.
	Full bool
}

// Observer receives snapshot changes in version order.
type Observer func(Change)

// ScanFunc streams every authoritative row to fn.
type ScanFunc func(ctx context.Context, fn func(model.UserScore) error) error

// Cache is the Top-K cache.
type Cache struct {
	mu   sync.RWMutex
	root *node
	byID map[string]model.UserScore
	// journal collects rows applied while a rebuild scan is running.
	journal map[string]model.UserScore

	snap atomic.Pointer[model.Snapshot]

	k            int
	startVersion uint64
	observer     Observer
	now          func() time.Time
	log          logger.Logger
}

// New creates an empty cache at version 0, or at the version set by
// WithStartVersion.
func New(opts ...Option) (*Cache, error) {
	c := &Cache{
		byID: make(map[string]model.UserScore),
		k:    10,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.k < 1 {
		return nil, ErrInvalidK
	}
	if c.log == nil {
		c.log = logger.Named("topk")
	}
	c.snap.Store(&model.Snapshot{Version: c.startVersion, GeneratedAt: c.now(), Entries: []model.Entry{}})
	return c, nil
}

// K returns the snapshot size.
func (c *Cache) K() int { return c.k }

// Snapshot returns the current snapshot without blocking.
func (c *Cache) Snapshot() model.Snapshot {
	return *c.snap.Load()
}

// Apply records a user's new authoritative score and returns the resulting
// snapshot. changed reports whether this update produced a new version.
// Rows older than the one already held for the user are ignored, so
// concurrent workers may apply their results in any order.
func (c *Cache) Apply(_ context.Context, row model.UserScore) (snap model.Snapshot, changed bool, err error) {
	if row.UserID == "" || row.Score < 0 {
		return c.Snapshot(), false, ErrInvalidUpdate
	}
	start := time.Now()
	defer func() {
		metrics.RecordCacheUpdateLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.journal != nil {
		if j, ok := c.journal[row.UserID]; !ok || newer(row, j) {
			c.journal[row.UserID] = row
		}
	}

	prev, known := c.byID[row.UserID]
	if known && !newer(row, prev) {
		return c.Snapshot(), false, nil
	}
	if known {
		c.root = remove(c.root, prev)
	}
	c.root = insert(c.root, row)
	c.byID[row.UserID] = row
	if !known {
		metrics.UpdateUsersTracked(len(c.byID))
	}

	cur := c.snap.Load()
	if c.cannotReachTop(cur, row) {
		metrics.RecordCacheShortCircuit()
		return *cur, false, nil
	}
	next, changed := c.publishLocked(false)
	return next, changed, nil
}

// cannotReachTop reports whether row, which ranks behind the current K-th
// entry and is not a member of the top K, leaves the top K untouched.
// Must be called with c.mu held.
func (c *Cache) cannotReachTop(cur *model.Snapshot, row model.UserScore) bool {
	if len(cur.Entries) < c.k {
		return false
	}
	for _, e := range cur.Entries {
		if e.UserID == row.UserID {
			return false
		}
	}
	kth := c.byID[cur.Entries[len(cur.Entries)-1].UserID]
	return model.Compare(row, kth) > 0
}

// publishLocked recomputes the top K and stores a new version if it
// differs. Must be called with c.mu held.
func (c *Cache) publishLocked(full bool) (model.Snapshot, bool) {
	prev := c.snap.Load()

	rows := make([]model.UserScore, 0, c.k)
	collectTop(c.root, c.k, &rows)
	entries := make([]model.Entry, len(rows))
	for i, r := range rows {
		entries[i] = model.Entry{Rank: i + 1, UserID: r.UserID, Score: r.Score}
	}
	if model.SameEntries(prev.Entries, entries) {
		return *prev, false
	}

	next := &model.Snapshot{Version: prev.Version + 1, GeneratedAt: c.now(), Entries: entries}
	c.snap.Store(next)
	metrics.RecordCacheVersionBump()
	metrics.UpdateSnapshotVersion(next.Version)

	if c.observer != nil {
		c.observer(Change{Prev: *prev, Cur: *next, Full: full})
	}
	return *next, true
}

// Rank returns the user's position among all known users, counting from 1.
func (c *Cache) Rank(userID string) (model.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	row, ok := c.byID[userID]
	if !ok {
		return model.Entry{}, ErrNotFound
	}
	return model.Entry{Rank: position(c.root, row) + 1, UserID: userID, Score: row.Score}, nil
}

// Len returns the number of users tracked.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// Rebuild replaces the ranked structure with the rows produced by scan.
// Updates applied while the scan runs are journaled and merged on top of
// the scanned rows, keeping whichever is newer. The swap is atomic for
// readers. When the top K differs a new version is published as a full
// change. prev is the snapshot live before the swap.
func (c *Cache) Rebuild(ctx context.Context, scan ScanFunc) (prev, cur model.Snapshot, err error) {
	c.mu.Lock()
	if c.journal != nil {
		c.mu.Unlock()
		return model.Snapshot{}, model.Snapshot{}, ErrRebuildInProgress
	}
	c.journal = make(map[string]model.UserScore)
	c.mu.Unlock()

	var root *node
	byID := make(map[string]model.UserScore)
	err = scan(ctx, func(row model.UserScore) error {
		if old, ok := byID[row.UserID]; ok {
			root = remove(root, old)
		}
		root = insert(root, row)
		byID[row.UserID] = row
		return nil
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	journal := c.journal
	c.journal = nil
	if err != nil {
		return c.Snapshot(), c.Snapshot(), err
	}

	for id, row := range journal {
		old, ok := byID[id]
		if ok && !newer(row, old) {
			continue
		}
		if ok {
			root = remove(root, old)
		}
		root = insert(root, row)
		byID[id] = row
	}

	prev = c.Snapshot()
	c.root = root
	c.byID = byID
	metrics.UpdateUsersTracked(len(byID))

	cur, changed := c.publishLocked(true)
	if changed {
		c.log.Debug(ctx, "cache rebuilt with a new top k",
			logger.Uint64("from_version", prev.Version),
			logger.Uint64("to_version", cur.Version),
			logger.Int("users", len(byID)))
	}
	return prev, cur, nil
}

// newer reports whether a supersedes b for the same user. Scores only grow,
// so the higher score is the later row whatever its timestamp; equal scores
// fall back to the later update time.
func newer(a, b model.UserScore) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

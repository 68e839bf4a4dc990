package topk

import (
	"time"

	"github.com/okian/topkboard/pkg/logger"
)

// Option applies a configuration option to the Cache.
type Option func(*Cache)

// WithK sets the number of entries held in each snapshot.
func WithK(k int) Option {
	return func(c *Cache) {
		c.k = k
	}
}

// WithObserver registers fn to receive every snapshot change. fn runs while
// the cache holds its write lock, so changes arrive in version order; it must
// not block or call back into the cache.
func WithObserver(fn Observer) Option {
	return func(c *Cache) {
		c.observer = fn
	}
}

// WithClock sets the time source for GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// WithStartVersion sets the version of the initial empty snapshot. The first
// change is published as start+1.
func WithStartVersion(v uint64) Option {
	return func(c *Cache) {
		c.startVersion = v
	}
}

// EpochVersion returns a start version derived from t in microseconds.
// Versions of a restarted process then begin past any version the previous
// process could have reached, so they are never reused as message ids or
// ETags, and they stay exact as JSON numbers.
func EpochVersion(t time.Time) uint64 {
	if us := t.UnixMicro(); us > 0 {
		return uint64(us)
	}
	return 0
}

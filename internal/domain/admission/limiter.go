package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keyedLimiter holds one token bucket per key and forgets buckets that have
// been idle for longer than idle.
type keyedLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newKeyedLimiter(perSec float64, burst int, idle time.Duration) *keyedLimiter {
	if burst < 1 {
		burst = 1
	}
	return &keyedLimiter{
		limit:   rate.Limit(perSec),
		burst:   burst,
		idle:    idle,
		buckets: make(map[string]*bucket),
	}
}

// Allow takes one token from key's bucket at now.
func (k *keyedLimiter) Allow(key string, now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if now.Sub(k.lastSweep) > k.idle {
		for id, b := range k.buckets {
			if now.Sub(b.seen) > k.idle {
				delete(k.buckets, id)
			}
		}
		k.lastSweep = now
	}

	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(k.limit, k.burst)}
		k.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Len returns the number of live buckets.
func (k *keyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

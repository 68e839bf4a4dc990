package admission

import (
	"time"

	"github.com/okian/topkboard/pkg/logger"
)

// Option applies a configuration option to the Guard.
type Option func(*Guard)

// WithDeltaCap sets the largest delta any event may carry.
func WithDeltaCap(deltaCap int64) Option {
	return func(g *Guard) {
		if deltaCap > 0 {
			g.deltaCap = deltaCap
		}
	}
}

// WithClockSkew sets the tolerance applied to proof timestamps.
func WithClockSkew(skew time.Duration) Option {
	return func(g *Guard) {
		if skew >= 0 {
			g.skew = skew
		}
	}
}

// WithMaxProofTTL bounds the validity window of accepted proofs.
func WithMaxProofTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.maxTTL = ttl
		}
	}
}

// WithUserRate sets the per-user token bucket.
func WithUserRate(perSec float64, burst int) Option {
	return func(g *Guard) {
		if perSec > 0 {
			g.userRate, g.userBurst = perSec, burst
		}
	}
}

// WithSourceRate sets the per-source token bucket.
func WithSourceRate(perSec float64, burst int) Option {
	return func(g *Guard) {
		if perSec > 0 {
			g.sourceRate, g.sourceBurst = perSec, burst
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

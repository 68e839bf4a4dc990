package fanout

import (
	"time"

	"github.com/okian/topkboard/pkg/logger"
)

// Option applies a configuration option to the Publisher.
type Option func(*Publisher)

// WithSubjectPrefix sets the prefix of the change-feed subjects.
func WithSubjectPrefix(prefix string) Option {
	return func(p *Publisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithFullSnapshotEvery attaches the full snapshot at least every n
// published versions.
func WithFullSnapshotEvery(n uint64) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.fullEvery = n
		}
	}
}

// WithFullSnapshotInterval attaches the full snapshot when d has passed
// since the last one.
func WithFullSnapshotInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.fullInterval = d
		}
	}
}

// WithHeartbeatInterval sets the heartbeat period. Zero disables it.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d >= 0 {
			p.heartbeat = d
		}
	}
}

// WithQueueSize bounds the number of changes waiting to be published.
func WithQueueSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithMaxRetries sets how many times a failed publish is retried.
func WithMaxRetries(n uint64) Option {
	return func(p *Publisher) {
		p.maxRetries = n
	}
}

// WithRetryInterval sets the first retry delay.
func WithRetryInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.retryInterval = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.log = l
		}
	}
}

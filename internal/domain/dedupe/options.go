package dedupe

import "time"

// Option applies a configuration option to the in-memory ledger.
type Option func(*inMemoryLedger)

// WithMaxSize bounds the number of records held at once.
// If maxSize > 0: bounded mode, Reserve fails with ErrLedgerFull when full.
// If maxSize <= 0: unbounded mode.
func WithMaxSize(maxSize int) Option {
	return func(l *inMemoryLedger) {
		l.maxSize = maxSize
	}
}

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(l *inMemoryLedger) {
		if now != nil {
			l.now = now
		}
	}
}

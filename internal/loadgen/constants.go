package loadgen

import "time"

// Defaults applied by Config.withDefaults.
const (
	DefaultNumEvents      = 10_000
	DefaultUsers          = 500
	DefaultDuplicateRatio = 0.05
	DefaultMaxDelta       = 100
	DefaultActionType     = "match_win"
	DefaultKeyVersion     = "v1"
	DefaultProofTTL       = 25 * time.Second
	DefaultTimeout        = 30 * time.Second
	DefaultTopN           = 10
	DefaultMaxRetries     = 8
)

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
	retryInitialInterval    = 50 * time.Millisecond
	retryMaxInterval        = 2 * time.Second
	maxErrorBody            = 4 << 10
)

// Submission outcomes.
const (
	outcomeAccepted    = "accepted"
	outcomeDuplicate   = "duplicate"
	outcomeRateLimited = "rate_limited"
	outcomeFailed      = "failed"
)

func (c Config) withDefaults() Config {
	if c.NumEvents <= 0 {
		c.NumEvents = DefaultNumEvents
	}
	if c.Users <= 0 {
		c.Users = DefaultUsers
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.DuplicateRatio < 0 {
		c.DuplicateRatio = 0
	}
	if c.MaxDelta <= 0 {
		c.MaxDelta = DefaultMaxDelta
	}
	if c.ActionType == "" {
		c.ActionType = DefaultActionType
	}
	if c.KeyVersion == "" {
		c.KeyVersion = DefaultKeyVersion
	}
	if c.ProofTTL <= 0 {
		c.ProofTTL = DefaultProofTTL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.TopN <= 0 {
		c.TopN = DefaultTopN
	}
	return c
}

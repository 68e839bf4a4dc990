// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Defaults live in New; Load layers a YAML file and TOPK_ env vars on top.
// - Durations are expressed in milliseconds and exposed as time.Duration helpers.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Store and bus drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverNATS     = "nats"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// TopK is the number of entrants held in the live snapshot.
	TopK int `koanf:"top_k"`

	// DeltaCap is the largest delta any single event may carry.
	DeltaCap int64 `koanf:"delta_cap"`

	// ClockSkewMS is the tolerance applied to proof expiry and issue times.
	ClockSkewMS int `koanf:"clock_skew_ms"`

	// MaxProofTTLMS bounds the validity window of a proof-of-action.
	MaxProofTTLMS int `koanf:"max_proof_ttl_ms"`

	// TokenKey and TokenKeyVersion are the active signing key.
	TokenKey        string `koanf:"token_key"`
	TokenKeyVersion string `koanf:"token_key_version"`

	// TokenKeys holds additional verification keys by version (rotation).
	TokenKeys map[string]string `koanf:"token_keys"`

	// Token bucket limits.
	RateUserPerSec   float64 `koanf:"rate_user_per_sec"`
	RateUserBurst    int     `koanf:"rate_user_burst"`
	RateSourcePerSec float64 `koanf:"rate_source_per_sec"`
	RateSourceBurst  int     `koanf:"rate_source_burst"`

	// LedgerMaxSize bounds the in-memory idempotency ledger; 0 means unbounded.
	LedgerMaxSize      int `koanf:"ledger_max_size"`
	LedgerGCIntervalMS int `koanf:"ledger_gc_interval_ms"`

	// StoreDriver selects the authoritative store: memory or postgres.
	StoreDriver string `koanf:"store_driver"`
	DatabaseURL string `koanf:"database_url"`

	// BusDriver selects the change bus: memory or nats.
	BusDriver     string `koanf:"bus_driver"`
	NATSURL       string `koanf:"nats_url"`
	NATSStream    string `koanf:"nats_stream"`
	SubjectPrefix string `koanf:"subject_prefix"`

	// Full snapshot cadence: every N versions or every interval, whichever first.
	FullSnapshotEvery      int `koanf:"full_snapshot_every"`
	FullSnapshotIntervalMS int `koanf:"full_snapshot_interval_ms"`

	HeartbeatIntervalMS int `koanf:"heartbeat_interval_ms"`

	PublishQueueSize  int `koanf:"publish_queue_size"`
	PublishMaxRetries int `koanf:"publish_max_retries"`

	ReconcileIntervalMS int `koanf:"reconcile_interval_ms"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:               "info",
		Addr:                   ":9080",
		TopK:                   10,
		DeltaCap:               1_000,
		ClockSkewMS:            5_000,
		MaxProofTTLMS:          30_000,
		TokenKey:               "dev-signing-key-change-me",
		TokenKeyVersion:        "v1",
		RateUserPerSec:         20,
		RateUserBurst:          40,
		RateSourcePerSec:       500,
		RateSourceBurst:        1_000,
		LedgerMaxSize:          1_000_000,
		LedgerGCIntervalMS:     10_000,
		StoreDriver:            DriverMemory,
		BusDriver:              DriverMemory,
		NATSStream:             "TOPK",
		SubjectPrefix:          "topk.leaderboard",
		FullSnapshotEvery:      50,
		FullSnapshotIntervalMS: 30_000,
		HeartbeatIntervalMS:    5_000,
		PublishQueueSize:       4_096,
		PublishMaxRetries:      3,
		ReconcileIntervalMS:    180_000,
		MaxLeaderboardLimit:    100,
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.TopK < 1:
		return fmt.Errorf("%w: top_k must be at least 1, got %d", ErrInvalidConfig, c.TopK)
	case c.DeltaCap < 1:
		return fmt.Errorf("%w: delta_cap must be at least 1, got %d", ErrInvalidConfig, c.DeltaCap)
	case c.MaxProofTTLMS <= 0:
		return fmt.Errorf("%w: max_proof_ttl_ms must be positive", ErrInvalidConfig)
	case c.TokenKey == "" || c.TokenKeyVersion == "":
		return fmt.Errorf("%w: token_key and token_key_version are required", ErrInvalidConfig)
	case c.RateUserPerSec <= 0 || c.RateSourcePerSec <= 0:
		return fmt.Errorf("%w: rate limits must be positive", ErrInvalidConfig)
	case c.PublishQueueSize < 1:
		return fmt.Errorf("%w: publish_queue_size must be at least 1", ErrInvalidConfig)
	}

	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: database_url is required for the postgres store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}

	switch c.BusDriver {
	case DriverMemory:
	case DriverNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("%w: nats_url is required for the nats bus", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown bus_driver %q", ErrInvalidConfig, c.BusDriver)
	}
	return nil
}

// SigningKeys returns every verification key by version, including the active one.
func (c *Config) SigningKeys() map[string][]byte {
	keys := make(map[string][]byte, len(c.TokenKeys)+1)
	for version, secret := range c.TokenKeys {
		keys[version] = []byte(secret)
	}
	keys[c.TokenKeyVersion] = []byte(c.TokenKey)
	return keys
}

// ClockSkew returns the proof clock tolerance.
func (c *Config) ClockSkew() time.Duration { return ms(c.ClockSkewMS) }

// MaxProofTTL returns the longest accepted proof validity window.
func (c *Config) MaxProofTTL() time.Duration { return ms(c.MaxProofTTLMS) }

// LedgerGCInterval returns how often expired ledger entries are swept.
func (c *Config) LedgerGCInterval() time.Duration { return ms(c.LedgerGCIntervalMS) }

// FullSnapshotInterval returns the longest gap between full snapshot publishes.
func (c *Config) FullSnapshotInterval() time.Duration { return ms(c.FullSnapshotIntervalMS) }

// HeartbeatInterval returns the change feed heartbeat period.
func (c *Config) HeartbeatInterval() time.Duration { return ms(c.HeartbeatIntervalMS) }

// ReconcileInterval returns the periodic reconciliation period.
func (c *Config) ReconcileInterval() time.Duration { return ms(c.ReconcileIntervalMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

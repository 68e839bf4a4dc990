package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/topkboard/internal/loadgen"
)

// Default configuration constants.
const (
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
	defaultRunTimeout = 10 * time.Minute
	defaultSigningKey = "dev-signing-key-change-me"
	signingKeyEnv     = "TOPK_TOKEN_KEY"
	signingVersionEnv = "TOPK_TOKEN_KEY_VERSION"
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		numEvents  = flag.Int("events", loadgen.DefaultNumEvents, "Number of distinct events to submit")
		users      = flag.Int("users", loadgen.DefaultUsers, "Number of distinct users")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		dupRatio   = flag.Float64("duplicates", loadgen.DefaultDuplicateRatio, "Share of extra submissions replaying an earlier token")
		maxDelta   = flag.Int64("max-delta", loadgen.DefaultMaxDelta, "Largest delta per event")
		actionType = flag.String("action", loadgen.DefaultActionType, "Action type stamped on events")
		keyVersion = flag.String("key-version", envOr(signingVersionEnv, loadgen.DefaultKeyVersion), "Signing key version")
		key        = flag.String("key", envOr(signingKeyEnv, defaultSigningKey), "Signing key shared with the service")
		proofTTL   = flag.Duration("proof-ttl", loadgen.DefaultProofTTL, "Validity window of minted proofs")
		timeout    = flag.Duration("timeout", loadgen.DefaultTimeout, "HTTP request timeout")
		topN       = flag.Int("top", loadgen.DefaultTopN, "Number of leaderboard entries to verify")
		retries    = flag.Uint64("retries", loadgen.DefaultMaxRetries, "Retries for rate limited submissions")
		seed       = flag.Uint64("seed", uint64(time.Now().UnixNano()), "Generator seed")
		logFile    = flag.String("log", "", "Also write logs to this file")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	closeLog, err := loadgen.SetupLogging(*logFile)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	config := loadgen.Config{
		BaseURL:        *baseURL,
		NumEvents:      *numEvents,
		Users:          *users,
		Workers:        *workers,
		DuplicateRatio: *dupRatio,
		MaxDelta:       *maxDelta,
		ActionType:     *actionType,
		KeyVersion:     *keyVersion,
		Key:            []byte(*key),
		ProofTTL:       *proofTTL,
		Timeout:        *timeout,
		TopN:           *topN,
		MaxRetries:     *retries,
		Seed:           *seed,
		Verbose:        *verbose,
	}

	if _, err := loadgen.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Load run failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

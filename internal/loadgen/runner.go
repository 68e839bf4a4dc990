package loadgen

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/topkboard/internal/domain/admission"
	"github.com/okian/topkboard/pkg/logger"
)

// PercentageMultiplier converts a ratio to a percentage.
const PercentageMultiplier = 100

// Run executes a complete load run: health check, generation, concurrent
// submission and leaderboard verification.
func Run(ctx context.Context, config Config) (*Stats, error) {
	config = config.withDefaults()
	if len(config.Key) == 0 {
		return nil, ErrNoKey
	}
	stats := &Stats{StartTime: time.Now()}
	log := logger.Named("loadgen")

	log.Info(ctx, "starting topkboard load run",
		logger.String("baseURL", config.BaseURL),
		logger.Int("events", config.NumEvents),
		logger.Int("users", config.Users),
		logger.Int("workers", config.Workers),
		logger.Float64("duplicateRatio", config.DuplicateRatio),
		logger.Duration("timeout", config.Timeout),
		logger.Int("topN", config.TopN))

	issuer, err := admission.NewIssuer(config.KeyVersion, config.Key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create proof issuer: %w", err)
	}
	client := NewHTTPClient(config.BaseURL, config.Timeout)

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, client); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate events
	events := Generate(ctx, config)
	stats.EventsGenerated = len(events)

	// Step 3: Submit events concurrently
	outcomes := Submit(ctx, config, client, issuer, events, stats)
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("event submission interrupted: %w", err)
	}

	// Step 4: Verify; the leaderboard is updated before each submission returns
	if _, err := Verify(ctx, config, client, Expected(events, outcomes), stats); err != nil {
		return stats, err
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return stats, nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient) error {
	resp, err := client.Get(ctx, "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, eventsPerSecond float64
	if stats.EventsSubmitted > 0 {
		successRate = float64(stats.EventsAccepted+stats.EventsDuplicate) / float64(stats.EventsSubmitted) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsSubmitted) / stats.Duration.Seconds()
	}

	logger.Named("loadgen").Info(ctx, "final statistics",
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("eventsSubmitted", stats.EventsSubmitted),
		logger.Int("eventsAccepted", stats.EventsAccepted),
		logger.Int("eventsDuplicate", stats.EventsDuplicate),
		logger.Int("eventsRateLimited", stats.EventsRateLimited),
		logger.Int("eventsFailed", stats.EventsFailed),
		logger.Int("retries", stats.Retries),
		logger.Int("leaderboardEntries", stats.LeaderboardEntries),
		logger.Uint64("leaderboardVersion", stats.LeaderboardVersion),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}

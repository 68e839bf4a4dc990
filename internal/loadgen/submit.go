package loadgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"github.com/okian/topkboard/internal/adapters/http/api"
	"github.com/okian/topkboard/internal/domain/admission"
	"github.com/okian/topkboard/pkg/logger"
)

// errRetryable marks a response worth submitting again.
var errRetryable = errors.New("retryable status")

// Submit posts every event using config.Workers concurrent submitters and
// returns the outcome of each event by index.
func Submit(ctx context.Context, config Config, client *HTTPClient, issuer *admission.Issuer, events []Event, stats *Stats) []string {
	config = config.withDefaults()
	log := logger.Named("loadgen")
	log.Info(ctx, "submitting events",
		logger.Int("events", len(events)),
		logger.Int("workers", config.Workers))

	outcomes := make([]string, len(events))
	var (
		submitted int64
		retries   int64
	)

	indexes := make(chan int, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup
	for w := 0; w < config.Workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			sourceID := fmt.Sprintf("loadgen-%d", workerID)
			for i := range indexes {
				if ctx.Err() != nil {
					outcomes[i] = outcomeFailed
					continue
				}
				var tries int64
				outcomes[i], tries = submitWithRetry(ctx, config, client, issuer, events[i], sourceID)
				atomic.AddInt64(&retries, tries)
				if n := atomic.AddInt64(&submitted, 1); config.Verbose && n%1000 == 0 {
					log.Info(ctx, "progress", logger.Int64("submitted", n), logger.Int("total", len(events)))
				}
			}
		}(w)
	}

	go func() {
		defer close(indexes)
		for i := range events {
			select {
			case <-ctx.Done():
				// mark the rest so the outcome slice stays complete
				for j := i; j < len(events); j++ {
					outcomes[j] = outcomeFailed
				}
				return
			case indexes <- i:
			}
		}
	}()
	wg.Wait()

	for _, o := range outcomes {
		switch o {
		case outcomeAccepted:
			stats.EventsAccepted++
		case outcomeDuplicate:
			stats.EventsDuplicate++
		case outcomeRateLimited:
			stats.EventsRateLimited++
		default:
			stats.EventsFailed++
		}
	}
	stats.EventsSubmitted = int(atomic.LoadInt64(&submitted))
	stats.Retries = int(atomic.LoadInt64(&retries))

	log.Info(ctx, "event submission completed",
		logger.Int("accepted", stats.EventsAccepted),
		logger.Int("duplicate", stats.EventsDuplicate),
		logger.Int("rateLimited", stats.EventsRateLimited),
		logger.Int("failed", stats.EventsFailed),
		logger.Int("retries", stats.Retries))
	return outcomes
}

// submitWithRetry posts ev until it gets a final answer. Rate limited and
// unavailable responses are retried with exponential backoff; a fresh proof
// is minted for every attempt so retries never present an expired one.
func submitWithRetry(ctx context.Context, config Config, client *HTTPClient, issuer *admission.Issuer, ev Event, sourceID string) (string, int64) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = retryInitialInterval
	eb.MaxInterval = retryMaxInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, config.MaxRetries), ctx)

	var (
		outcome  string
		attempts int64
	)
	op := func() error {
		attempts++
		proof, err := issuer.Issue(ev.UserID, ev.ActionType, ev.ActionTokenID, config.MaxDelta, config.ProofTTL)
		if err != nil {
			outcome = outcomeFailed
			return backoff.Permanent(err)
		}
		resp, err := client.PostEvent(ctx, ev, proof, sourceID)
		if err != nil {
			outcome = outcomeFailed
			return err
		}
		defer closeBody(resp)

		switch resp.StatusCode {
		case http.StatusOK:
			outcome = outcomeAccepted
			if resp.Header.Get(api.HeaderIdempotentReplay) == "true" {
				outcome = outcomeDuplicate
			}
			return nil
		case http.StatusTooManyRequests:
			outcome = outcomeRateLimited
			return retryable(resp)
		case http.StatusServiceUnavailable:
			outcome = outcomeFailed
			return retryable(resp)
		default:
			outcome = outcomeFailed
			return backoff.Permanent(fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode))
		}
	}
	if err := backoff.Retry(op, policy); err != nil && config.Verbose {
		logger.Get().Debug(ctx, "submission gave up",
			logger.String("action_token_id", ev.ActionTokenID),
			logger.String("outcome", outcome),
			logger.Error(err))
	}
	return outcome, attempts - 1
}

func retryable(resp *http.Response) error {
	return fmt.Errorf("%w: %d", errRetryable, resp.StatusCode)
}

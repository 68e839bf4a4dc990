package loadgen

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/okian/topkboard/pkg/logger"
)

// pcgStream is the fixed PCG stream selector; the seed picks the sequence.
const pcgStream = 0x9e3779b97f4a7c15

// Generate creates NumEvents distinct events spread over Users users, plus
// DuplicateRatio*NumEvents replays of earlier tokens, in shuffled order.
func Generate(ctx context.Context, config Config) []Event {
	config = config.withDefaults()
	rng := rand.New(rand.NewPCG(config.Seed, pcgStream))

	users := make([]string, config.Users)
	for i := range users {
		users[i] = fmt.Sprintf("player-%05d", i)
	}

	replays := int(float64(config.NumEvents) * config.DuplicateRatio)
	events := make([]Event, 0, config.NumEvents+replays)
	for i := 0; i < config.NumEvents; i++ {
		events = append(events, Event{
			// skewed toward low indexes so a few users pull ahead
			UserID:        users[int(float64(len(users))*rng.Float64()*rng.Float64())],
			Delta:         1 + rng.Int64N(config.MaxDelta),
			ActionType:    config.ActionType,
			ActionTokenID: uuid.NewString(),
		})
	}
	for i := 0; i < replays; i++ {
		ev := events[rng.IntN(config.NumEvents)]
		ev.Replay = true
		events = append(events, ev)
	}
	rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })

	logger.Get().Info(ctx, "generated events",
		logger.Int("distinct", config.NumEvents),
		logger.Int("replays", replays),
		logger.Int("users", config.Users))
	return events
}

// Expected sums the deltas of every token the service acknowledged, once per
// token regardless of how many times it was submitted.
func Expected(events []Event, outcomes []string) map[string]int64 {
	counted := make(map[string]struct{}, len(events))
	sums := make(map[string]int64)
	for i, ev := range events {
		if outcomes[i] != outcomeAccepted && outcomes[i] != outcomeDuplicate {
			continue
		}
		if _, ok := counted[ev.ActionTokenID]; ok {
			continue
		}
		counted[ev.ActionTokenID] = struct{}{}
		sums[ev.UserID] += ev.Delta
	}
	return sums
}

// Package loadgen drives a running topkboard service over HTTP: it mints
// proof-of-action tokens, submits score events concurrently (including
// deliberate replays) and verifies the resulting leaderboard.
package loadgen

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL        string        // Base URL of the service
	NumEvents      int           // Number of distinct events to submit
	Users          int           // Number of distinct users the events spread over
	Workers        int           // Number of concurrent submitters
	DuplicateRatio float64       // Share of extra submissions replaying an earlier token
	MaxDelta       int64         // Largest delta a generated event carries
	ActionType     string        // Action type stamped on every event
	KeyVersion     string        // Signing key version (kid)
	Key            []byte        // Signing key shared with the service
	ProofTTL       time.Duration // Validity window of each minted proof
	Timeout        time.Duration // HTTP request timeout
	TopN           int           // Number of leaderboard entries to verify
	MaxRetries     uint64        // Retries for rate limited or unavailable submissions
	Seed           uint64        // Seed for the event generator
	Verbose        bool          // Enable verbose logging
}

// Event is one submission. Replays share the token of an earlier event.
type Event struct {
	UserID        string `json:"-"`
	Delta         int64  `json:"delta"`
	ActionType    string `json:"actionType"`
	ActionTokenID string `json:"actionTokenId"`
	Replay        bool   `json:"-"`
}

// Entry represents a leaderboard entry.
type Entry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"userId"`
	Score  int64  `json:"score"`
}

// Board is the leaderboard payload.
type Board struct {
	Version uint64  `json:"version"`
	Entries []Entry `json:"entries"`
}

// Ack is the response body of an accepted or replayed submission.
type Ack struct {
	EventID            string `json:"eventId"`
	NewScore           int64  `json:"newScore"`
	LeaderboardChanged bool   `json:"leaderboardChanged"`
}

// Stats holds run statistics.
type Stats struct {
	EventsGenerated    int
	EventsSubmitted    int
	EventsAccepted     int
	EventsDuplicate    int
	EventsRateLimited  int
	EventsFailed       int
	Retries            int
	LeaderboardEntries int
	LeaderboardVersion uint64
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}

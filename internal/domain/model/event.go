// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"time"
)

// ScoreEvent is an accepted score increment. It is immutable once admitted.
type ScoreEvent struct {
	EventID        string          `json:"eventId"` // ULID, time ordered
	UserID         string          `json:"userId"`
	Delta          int64           `json:"delta"`
	ActionType     string          `json:"actionType"`
	ActionTokenID  string          `json:"actionTokenId"`
	SourceID       string          `json:"sourceId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	IngestedAt     time.Time       `json:"ingestedAt"`
	ClientMetadata json.RawMessage `json:"clientMetadata,omitempty"`
}

// UserScore is the authoritative score row for one user.
type UserScore struct {
	UserID    string    `json:"userId"`
	Score     int64     `json:"score"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IngestRequest is a score submission together with the caller's verified
// identity and its proof-of-action.
type IngestRequest struct {
	UserID         string
	SourceID       string
	Delta          int64
	ActionType     string
	ActionTokenID  string
	Proof          string
	ClientMetadata json.RawMessage
	CreatedAt      time.Time
}

// IngestResult is returned for accepted and duplicate submissions alike.
type IngestResult struct {
	EventID            string `json:"eventId"`
	NewScore           int64  `json:"newScore"`
	LeaderboardChanged bool   `json:"leaderboardChanged"`

	// Duplicate marks an idempotent replay. It is carried out of band
	// so the response body keeps the same shape.
	Duplicate bool `json:"-"`
}

// Replay returns the result reported for a duplicate submission.
func (r IngestResult) Replay() IngestResult {
	r.LeaderboardChanged = false
	r.Duplicate = true
	return r
}

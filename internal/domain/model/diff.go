package model

import "time"

// Move records a member whose rank changed between two snapshots.
type Move struct {
	UserID  string `json:"userId"`
	OldRank int    `json:"oldRank"`
	NewRank int    `json:"newRank"`
	Score   int64  `json:"score"`
}

// Diff is the minimal change from snapshot FromVersion to ToVersion.
type Diff struct {
	FromVersion uint64    `json:"fromVersion"`
	ToVersion   uint64    `json:"toVersion"`
	GeneratedAt time.Time `json:"generatedAt"`
	Removed     []string  `json:"removed"`
	Added       []Entry   `json:"added"`
	Moved       []Move    `json:"moved"`
	// Rescored lists members whose score changed while their rank did not.
	Rescored []Entry `json:"rescored,omitempty"`
}

// Empty reports whether the diff carries no change.
func (d Diff) Empty() bool {
	return len(d.Removed) == 0 && len(d.Added) == 0 && len(d.Moved) == 0 && len(d.Rescored) == 0
}

// Size returns the number of entries the diff carries.
func (d Diff) Size() int {
	return len(d.Removed) + len(d.Added) + len(d.Moved) + len(d.Rescored)
}

// DriftReport is the outcome of one reconciliation pass.
type DriftReport struct {
	DriftDetected   bool          `json:"driftDetected"`
	PreviousTopK    []Entry       `json:"previousTopK"`
	RebuiltTopK     []Entry       `json:"rebuiltTopK"`
	PreviousVersion uint64        `json:"previousVersion"`
	Version         uint64        `json:"version"`
	ScannedUsers    int           `json:"scannedUsers"`
	Took            time.Duration `json:"-"`
}

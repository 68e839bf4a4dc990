package model

import (
	"strings"
	"time"
)

// Entry is one ranked row of a snapshot. Ranks are positional, 1..K.
type Entry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"userId"`
	Score  int64  `json:"score"`
}

// Snapshot is an immutable top-K view. Versions strictly increase.
type Snapshot struct {
	Version     uint64    `json:"version"`
	GeneratedAt time.Time `json:"generatedAt"`
	Entries     []Entry   `json:"entries"`
}

// Limit returns a copy of s holding at most n entries.
func (s Snapshot) Limit(n int) Snapshot {
	if n < 0 || n >= len(s.Entries) {
		return s
	}
	s.Entries = s.Entries[:n]
	return s
}

// SameEntries reports whether a and b rank the same users with the same scores.
func SameEntries(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Compare orders user scores for ranking: score descending, then earliest
// update first, then user id ascending. It returns a negative number when a
// ranks ahead of b.
func Compare(a, b UserScore) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	}
	if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.UserID, b.UserID)
}

// Package bus carries change-feed messages to subscribers and resync
// requests back from them.
package bus

import (
	"context"
)

// Subject suffixes appended to the configured prefix.
const (
	SuffixUpdates   = "updates"
	SuffixHeartbeat = "heartbeat"
	SuffixResync    = "resync"
)

// Bus is an ordered, at-least-once publish primitive.
type Bus interface {
	// Publish sends data on subject. A non-empty msgID lets the bus drop
	// a second copy of the same message.
	Publish(ctx context.Context, subject, msgID string, data []byte) error

	// OnResync registers fn to run whenever a subscriber asks for a full
	// snapshot.
	OnResync(fn func()) error

	Close() error
}

// Subjects holds the full subject names derived from a prefix.
type Subjects struct {
	Updates   string
	Heartbeat string
	Resync    string
}

// SubjectsFor derives the subject names under prefix.
func SubjectsFor(prefix string) Subjects {
	return Subjects{
		Updates:   prefix + "." + SuffixUpdates,
		Heartbeat: prefix + "." + SuffixHeartbeat,
		Resync:    prefix + "." + SuffixResync,
	}
}

package fanout

import (
	"time"

	"github.com/okian/topkboard/internal/domain/model"
)

// Message types on the change feed.
const (
	TypeUpdate    = "update"
	TypeHeartbeat = "heartbeat"
)

// publishResync labels resync publishes in metrics; on the wire they are
// updates carrying the full snapshot.
const publishResync = "resync"

// Message is one change-feed message.
type Message struct {
	Type    string          `json:"type"`
	Version uint64          `json:"version"`
	Diff    *model.Diff     `json:"diff,omitempty"`
	Full    *model.Snapshot `json:"full,omitempty"`
	TS      *time.Time      `json:"ts,omitempty"`
}

// Package diff computes and applies minimal changes between two top-K
// snapshots. Both operations are pure.
package diff

import (
	"fmt"

	"github.com/okian/topkboard/internal/domain/model"
)

// Compute returns the change from prev to cur. Equal versions yield an
// empty diff. Removed members keep prev's rank order; added, moved and
// rescored members follow cur's rank order.
func Compute(prev, cur model.Snapshot) model.Diff {
	d := model.Diff{
		FromVersion: prev.Version,
		ToVersion:   cur.Version,
		GeneratedAt: cur.GeneratedAt,
		Removed:     []string{},
		Added:       []model.Entry{},
		Moved:       []model.Move{},
	}
	if prev.Version == cur.Version {
		return d
	}

	before := make(map[string]model.Entry, len(prev.Entries))
	for _, e := range prev.Entries {
		before[e.UserID] = e
	}
	after := make(map[string]struct{}, len(cur.Entries))

	for _, e := range cur.Entries {
		after[e.UserID] = struct{}{}
		old, ok := before[e.UserID]
		switch {
		case !ok:
			d.Added = append(d.Added, e)
		case old.Rank != e.Rank:
			d.Moved = append(d.Moved, model.Move{UserID: e.UserID, OldRank: old.Rank, NewRank: e.Rank, Score: e.Score})
		case old.Score != e.Score:
			d.Rescored = append(d.Rescored, e)
		}
	}
	for _, e := range prev.Entries {
		if _, ok := after[e.UserID]; !ok {
			d.Removed = append(d.Removed, e.UserID)
		}
	}
	return d
}

// Apply rebuilds the snapshot d leads to from prev.
func Apply(prev model.Snapshot, d model.Diff) (model.Snapshot, error) {
	if d.FromVersion != prev.Version {
		return model.Snapshot{}, fmt.Errorf("%w: diff from %d, snapshot at %d", ErrVersionMismatch, d.FromVersion, prev.Version)
	}
	if d.FromVersion == d.ToVersion {
		return prev, nil
	}

	members := make(map[string]model.Entry, len(prev.Entries)+len(d.Added))
	for _, e := range prev.Entries {
		members[e.UserID] = e
	}
	for _, id := range d.Removed {
		if _, ok := members[id]; !ok {
			return model.Snapshot{}, fmt.Errorf("%w: removed %q is not a member", ErrInconsistentDiff, id)
		}
		delete(members, id)
	}
	for _, m := range d.Moved {
		e, ok := members[m.UserID]
		if !ok || e.Rank != m.OldRank {
			return model.Snapshot{}, fmt.Errorf("%w: moved %q not at rank %d", ErrInconsistentDiff, m.UserID, m.OldRank)
		}
		members[m.UserID] = model.Entry{Rank: m.NewRank, UserID: m.UserID, Score: m.Score}
	}
	for _, e := range d.Rescored {
		old, ok := members[e.UserID]
		if !ok || old.Rank != e.Rank {
			return model.Snapshot{}, fmt.Errorf("%w: rescored %q not at rank %d", ErrInconsistentDiff, e.UserID, e.Rank)
		}
		members[e.UserID] = e
	}
	for _, e := range d.Added {
		if _, ok := members[e.UserID]; ok {
			return model.Snapshot{}, fmt.Errorf("%w: added %q is already a member", ErrInconsistentDiff, e.UserID)
		}
		members[e.UserID] = e
	}

	entries := make([]model.Entry, len(members))
	for _, e := range members {
		if e.Rank < 1 || e.Rank > len(entries) || entries[e.Rank-1].UserID != "" {
			return model.Snapshot{}, fmt.Errorf("%w: rank %d of %q", ErrInconsistentDiff, e.Rank, e.UserID)
		}
		entries[e.Rank-1] = e
	}

	return model.Snapshot{Version: d.ToVersion, GeneratedAt: d.GeneratedAt, Entries: entries}, nil
}

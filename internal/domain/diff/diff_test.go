package diff_test

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/okian/topkboard/internal/domain/diff"
	"github.com/okian/topkboard/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func snap(version uint64, pairs ...any) model.Snapshot {
	s := model.Snapshot{Version: version, GeneratedAt: time.Unix(int64(version), 0), Entries: []model.Entry{}}
	for i := 0; i < len(pairs); i += 2 {
		s.Entries = append(s.Entries, model.Entry{Rank: i/2 + 1, UserID: pairs[i].(string), Score: int64(pairs[i+1].(int))})
	}
	return s
}

func TestCompute(t *testing.T) {
	Convey("Given A at 100 and B at 90", t, func() {
		prev := snap(1, "A", 100, "B", 90)

		Convey("When B gains 15", func() {
			cur := snap(2, "B", 105, "A", 100)
			d := diff.Compute(prev, cur)

			Convey("Then both are reported as moved", func() {
				So(d.FromVersion, ShouldEqual, 1)
				So(d.ToVersion, ShouldEqual, 2)
				So(d.Removed, ShouldBeEmpty)
				So(d.Added, ShouldBeEmpty)
				So(d.Moved, ShouldResemble, []model.Move{
					{UserID: "B", OldRank: 2, NewRank: 1, Score: 105},
					{UserID: "A", OldRank: 1, NewRank: 2, Score: 100},
				})
			})
		})

		Convey("When the versions are equal", func() {
			d := diff.Compute(prev, prev)

			Convey("Then the diff is empty", func() {
				So(d.Empty(), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When a newcomer pushes B out of a top 2", func() {
			cur := snap(2, "C", 150, "A", 100)
			d := diff.Compute(prev, cur)

			Convey("Then B is removed, C added and A moved", func() {
				So(d.Removed, ShouldResemble, []string{"B"})
				So(d.Added, ShouldResemble, []model.Entry{{Rank: 1, UserID: "C", Score: 150}})
				So(d.Moved, ShouldResemble, []model.Move{{UserID: "A", OldRank: 1, NewRank: 2, Score: 100}})
			})
		})

		Convey("When only the leader's score changes", func() {
			cur := snap(2, "A", 130, "B", 90)
			d := diff.Compute(prev, cur)

			Convey("Then it is reported as rescored only", func() {
				So(d.Moved, ShouldBeEmpty)
				So(d.Rescored, ShouldResemble, []model.Entry{{Rank: 1, UserID: "A", Score: 130}})
				So(d.Empty(), ShouldBeFalse)
			})
		})
	})
}

func TestApply(t *testing.T) {
	Convey("Given a snapshot and a diff", t, func() {
		prev := snap(4, "A", 100, "B", 90, "C", 80)
		cur := snap(5, "C", 200, "A", 100, "D", 95)
		d := diff.Compute(prev, cur)

		Convey("When applying the diff", func() {
			got, err := diff.Apply(prev, d)

			Convey("Then the target snapshot is reproduced", func() {
				So(err, ShouldBeNil)
				So(got, ShouldResemble, cur)
			})
		})

		Convey("When the diff targets another version", func() {
			_, err := diff.Apply(snap(3, "A", 1), d)
			So(errors.Is(err, diff.ErrVersionMismatch), ShouldBeTrue)
		})

		Convey("When the diff is empty", func() {
			got, err := diff.Apply(prev, diff.Compute(prev, prev))
			So(err, ShouldBeNil)
			So(got, ShouldResemble, prev)
		})

		Convey("When the diff is corrupted", func() {
			bad := d
			bad.Added = append(bad.Added, model.Entry{Rank: 9, UserID: "Z", Score: 1})
			_, err := diff.Apply(prev, bad)
			So(errors.Is(err, diff.ErrInconsistentDiff), ShouldBeTrue)

			bad = d
			bad.Removed = []string{"ghost"}
			_, err = diff.Apply(prev, bad)
			So(errors.Is(err, diff.ErrInconsistentDiff), ShouldBeTrue)
		})
	})
}

// randomSnapshot draws up to k members from a small user pool.
func randomSnapshot(rng *rand.Rand, version uint64, k int) model.Snapshot {
	s := model.Snapshot{Version: version, GeneratedAt: time.Unix(int64(version), 0), Entries: []model.Entry{}}
	perm := rng.Perm(2 * k)
	n := rng.IntN(k + 1)
	score := int64(10_000)
	for i := range n {
		score -= int64(rng.IntN(50) + 1)
		s.Entries = append(s.Entries, model.Entry{Rank: i + 1, UserID: fmt.Sprintf("u%d", perm[i]), Score: score})
	}
	return s
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for i := range 2_000 {
		prev := randomSnapshot(rng, uint64(i), 8)
		cur := randomSnapshot(rng, uint64(i+1), 8)

		got, err := diff.Apply(prev, diff.Compute(prev, cur))
		if err != nil {
			t.Fatalf("iteration %d: apply: %v", i, err)
		}
		if !model.SameEntries(got.Entries, cur.Entries) || got.Version != cur.Version || !got.GeneratedAt.Equal(cur.GeneratedAt) {
			t.Fatalf("iteration %d: round trip mismatch\nprev=%v\ncur=%v\ngot=%v", i, prev, cur, got)
		}
	}
}

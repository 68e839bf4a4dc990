package model_test

import (
	"errors"
	"io"
	"testing"
	"time"

	model "github.com/okian/topkboard/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestCompare(t *testing.T) {
	convey.Convey("Given user scores to rank", t, func() {
		t0 := time.Unix(1_700_000_000, 0)

		convey.Convey("When scores differ", func() {
			a := model.UserScore{UserID: "a", Score: 100, UpdatedAt: t0.Add(time.Second)}
			b := model.UserScore{UserID: "b", Score: 90, UpdatedAt: t0}

			convey.Convey("Then the higher score ranks first", func() {
				convey.So(model.Compare(a, b), convey.ShouldBeLessThan, 0)
				convey.So(model.Compare(b, a), convey.ShouldBeGreaterThan, 0)
			})
		})

		convey.Convey("When scores tie", func() {
			early := model.UserScore{UserID: "z", Score: 50, UpdatedAt: t0}
			late := model.UserScore{UserID: "a", Score: 50, UpdatedAt: t0.Add(time.Millisecond)}

			convey.Convey("Then the earliest update ranks first", func() {
				convey.So(model.Compare(early, late), convey.ShouldBeLessThan, 0)
			})
		})

		convey.Convey("When score and update time tie", func() {
			a := model.UserScore{UserID: "a", Score: 50, UpdatedAt: t0}
			b := model.UserScore{UserID: "b", Score: 50, UpdatedAt: t0}

			convey.Convey("Then user id decides", func() {
				convey.So(model.Compare(a, b), convey.ShouldBeLessThan, 0)
				convey.So(model.Compare(a, a), convey.ShouldEqual, 0)
			})
		})
	})
}

func TestSnapshot(t *testing.T) {
	convey.Convey("Given a snapshot with three entries", t, func() {
		s := model.Snapshot{Version: 3, Entries: []model.Entry{
			{Rank: 1, UserID: "a", Score: 30},
			{Rank: 2, UserID: "b", Score: 20},
			{Rank: 3, UserID: "c", Score: 10},
		}}

		convey.Convey("Then Limit trims without touching the original", func() {
			convey.So(s.Limit(2).Entries, convey.ShouldHaveLength, 2)
			convey.So(s.Limit(10).Entries, convey.ShouldHaveLength, 3)
			convey.So(s.Limit(-1).Entries, convey.ShouldHaveLength, 3)
			convey.So(s.Entries, convey.ShouldHaveLength, 3)
		})

		convey.Convey("Then SameEntries compares rank, user and score", func() {
			other := append([]model.Entry(nil), s.Entries...)
			convey.So(model.SameEntries(s.Entries, other), convey.ShouldBeTrue)
			other[2].Score = 11
			convey.So(model.SameEntries(s.Entries, other), convey.ShouldBeFalse)
			convey.So(model.SameEntries(s.Entries, other[:2]), convey.ShouldBeFalse)
		})
	})
}

func TestIngestResultReplay(t *testing.T) {
	convey.Convey("Given a first submission result", t, func() {
		r := model.IngestResult{EventID: "e1", NewScore: 105, LeaderboardChanged: true}

		convey.Convey("Then its replay keeps the score and clears the change flag", func() {
			replay := r.Replay()
			convey.So(replay.EventID, convey.ShouldEqual, "e1")
			convey.So(replay.NewScore, convey.ShouldEqual, 105)
			convey.So(replay.LeaderboardChanged, convey.ShouldBeFalse)
			convey.So(replay.Duplicate, convey.ShouldBeTrue)
		})
	})
}

func TestErrorTaxonomy(t *testing.T) {
	convey.Convey("Given a wrapped cause", t, func() {
		err := model.Wrap(model.ErrStoreUnavailable, io.ErrUnexpectedEOF)

		convey.Convey("Then it matches both the kind and the cause", func() {
			convey.So(errors.Is(err, model.ErrStoreUnavailable), convey.ShouldBeTrue)
			convey.So(errors.Is(err, io.ErrUnexpectedEOF), convey.ShouldBeTrue)
			convey.So(model.KindOf(err), convey.ShouldEqual, model.ErrStoreUnavailable)
			convey.So(model.Reason(err), convey.ShouldEqual, "store_unavailable")
		})

		convey.Convey("Then a nil cause yields the kind itself", func() {
			convey.So(model.Wrap(model.ErrAuth, nil), convey.ShouldEqual, model.ErrAuth)
		})

		convey.Convey("Then formatted errors keep their kind", func() {
			err := model.Errorf(model.ErrValidation, "delta %d exceeds cap %d", 20, 10)
			convey.So(model.Reason(err), convey.ShouldEqual, "validation")
			convey.So(err.Error(), convey.ShouldContainSubstring, "delta 20 exceeds cap 10")
		})

		convey.Convey("Then unknown errors are internal", func() {
			convey.So(model.KindOf(io.EOF), convey.ShouldBeNil)
			convey.So(model.Reason(io.EOF), convey.ShouldEqual, "internal")
		})
	})
}

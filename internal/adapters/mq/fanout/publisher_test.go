package fanout_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/topkboard/internal/adapters/mq/bus"
	"github.com/okian/topkboard/internal/adapters/mq/fanout"
	"github.com/okian/topkboard/internal/domain/diff"
	"github.com/okian/topkboard/internal/domain/model"
	"github.com/okian/topkboard/internal/domain/topk"
)

// countingBus counts publish attempts on top of a memory bus.
type countingBus struct {
	*bus.MemoryBus
	attempts atomic.Int64
}

func (b *countingBus) Publish(ctx context.Context, subject, msgID string, data []byte) error {
	err := b.MemoryBus.Publish(ctx, subject, msgID, data)
	b.attempts.Add(1)
	return err
}

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func row(user string, score int64, at int) model.UserScore {
	return model.UserScore{UserID: user, Score: score, UpdatedAt: base.Add(time.Duration(at) * time.Second)}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func decode(msgs []bus.Message) []fanout.Message {
	out := make([]fanout.Message, 0, len(msgs))
	for _, m := range msgs {
		var msg fanout.Message
		if err := json.Unmarshal(m.Data, &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func setup(opts ...fanout.Option) (*countingBus, *fanout.Publisher, *topk.Cache) {
	b := &countingBus{MemoryBus: bus.NewMemoryBus()}
	opts = append([]fanout.Option{
		fanout.WithHeartbeatInterval(0),
		fanout.WithMaxRetries(1),
		fanout.WithRetryInterval(time.Millisecond),
	}, opts...)
	p, err := fanout.New(b, opts...)
	So(err, ShouldBeNil)
	c, err := topk.New(topk.WithK(3), topk.WithObserver(p.Observe))
	So(err, ShouldBeNil)
	So(p.Start(context.Background()), ShouldBeNil)
	return b, p, c
}

func TestPublisherOrderAndRoundTrip(t *testing.T) {
	Convey("Given a publisher observing a cache", t, func() {
		ctx := context.Background()
		b, p, c := setup(fanout.WithFullSnapshotEvery(1000), fanout.WithFullSnapshotInterval(time.Hour))
		subject := p.Subjects().Updates

		Convey("When a run of updates changes the top K", func() {
			for i := range 20 {
				_, _, err := c.Apply(ctx, row(string(rune('a'+i%6)), int64(10+i*3), i))
				So(err, ShouldBeNil)
			}
			So(p.Stop(ctx), ShouldBeNil)

			msgs := decode(b.Messages(subject))

			Convey("Then versions are strictly increasing and the diffs replay to the cache", func() {
				So(msgs, ShouldNotBeEmpty)
				client := model.Snapshot{Entries: []model.Entry{}}
				var last uint64
				for _, m := range msgs {
					So(m.Type, ShouldEqual, fanout.TypeUpdate)
					So(m.Version, ShouldBeGreaterThan, last)
					last = m.Version
					next, err := diff.Apply(client, *m.Diff)
					So(err, ShouldBeNil)
					client = next
				}
				So(client.Entries, ShouldResemble, c.Snapshot().Entries)
				So(client.Version, ShouldEqual, c.Snapshot().Version)
			})

			Convey("Then only the first update carries the full snapshot", func() {
				So(msgs[0].Full, ShouldNotBeNil)
				for _, m := range msgs[1:] {
					So(m.Full, ShouldBeNil)
				}
			})
		})
	})
}

func TestPublisherFailures(t *testing.T) {
	Convey("Given a publisher whose bus goes down", t, func() {
		ctx := context.Background()
		b, p, c := setup(fanout.WithFullSnapshotEvery(1000), fanout.WithFullSnapshotInterval(time.Hour))
		subject := p.Subjects().Updates

		_, _, err := c.Apply(ctx, row("a", 10, 1))
		So(err, ShouldBeNil)
		So(waitFor(func() bool { return len(b.Messages(subject)) == 1 }), ShouldBeTrue)

		b.FailWith(errors.New("bus down"))
		before := b.attempts.Load()
		_, _, err = c.Apply(ctx, row("b", 20, 2))
		So(err, ShouldBeNil)
		So(waitFor(func() bool { return b.attempts.Load() == before+2 }), ShouldBeTrue)

		Convey("When the bus recovers and another change happens", func() {
			b.FailWith(nil)
			_, _, err := c.Apply(ctx, row("c", 30, 3))
			So(err, ShouldBeNil)
			So(p.Stop(ctx), ShouldBeNil)

			msgs := decode(b.Messages(subject))

			Convey("Then the next update diffs from the last delivered version and carries the full snapshot", func() {
				So(msgs, ShouldHaveLength, 2)
				So(msgs[1].Diff.FromVersion, ShouldEqual, msgs[0].Version)
				So(msgs[1].Full, ShouldNotBeNil)
				So(msgs[1].Full.Entries, ShouldResemble, c.Snapshot().Entries)

				client, err := diff.Apply(*msgs[0].Full, *msgs[1].Diff)
				So(err, ShouldBeNil)
				So(client.Entries, ShouldResemble, c.Snapshot().Entries)
			})
		})
	})
}

func TestPublisherResyncAndHeartbeat(t *testing.T) {
	Convey("Given a running publisher", t, func() {
		ctx := context.Background()
		b, p, c := setup(fanout.WithFullSnapshotEvery(1000), fanout.WithFullSnapshotInterval(time.Hour))

		_, _, err := c.Apply(ctx, row("a", 10, 1))
		So(err, ShouldBeNil)
		_, _, err = c.Apply(ctx, row("b", 20, 2))
		So(err, ShouldBeNil)

		Convey("When a subscriber asks for a resync over the bus", func() {
			b.RequestResync()
			So(p.Stop(ctx), ShouldBeNil)

			msgs := decode(b.Messages(p.Subjects().Updates))

			Convey("Then an update with an empty diff and the current top K is published", func() {
				lastMsg := msgs[len(msgs)-1]
				So(lastMsg.Type, ShouldEqual, fanout.TypeUpdate)
				So(lastMsg.Version, ShouldEqual, c.Snapshot().Version)
				So(lastMsg.Diff, ShouldNotBeNil)
				So(lastMsg.Diff.Empty(), ShouldBeTrue)
				So(lastMsg.Diff.ToVersion, ShouldEqual, c.Snapshot().Version)
				So(lastMsg.Full.Entries, ShouldResemble, c.Snapshot().Entries)
			})
		})

		Convey("When a heartbeat fires", func() {
			So(waitFor(func() bool { return p.Pending() == 0 }), ShouldBeTrue)
			p.Heartbeat(ctx)
			So(p.Stop(ctx), ShouldBeNil)

			msgs := decode(b.Messages(p.Subjects().Heartbeat))

			Convey("Then it carries the newest version and a timestamp", func() {
				So(msgs, ShouldHaveLength, 1)
				So(msgs[0].Type, ShouldEqual, fanout.TypeHeartbeat)
				So(msgs[0].Version, ShouldEqual, c.Snapshot().Version)
				So(msgs[0].TS, ShouldNotBeNil)
				So(msgs[0].Diff, ShouldBeNil)
			})
		})
	})
}

func TestPublisherFullSnapshotCadence(t *testing.T) {
	Convey("Given a publisher attaching the full snapshot every 2 versions", t, func() {
		ctx := context.Background()
		b, p, c := setup(fanout.WithFullSnapshotEvery(2), fanout.WithFullSnapshotInterval(time.Hour))

		for i := range 5 {
			_, _, err := c.Apply(ctx, row(string(rune('a'+i)), int64(10*(i+1)), i))
			So(err, ShouldBeNil)
		}
		So(p.Stop(ctx), ShouldBeNil)
		msgs := decode(b.Messages(p.Subjects().Updates))

		Convey("Then full snapshots appear on versions 1, 3 and 5", func() {
			So(msgs, ShouldHaveLength, 5)
			for _, m := range msgs {
				So(m.Full != nil, ShouldEqual, m.Version%2 == 1)
			}
		})
	})

	Convey("A publisher needs a bus", t, func() {
		_, err := fanout.New(nil)
		So(errors.Is(err, fanout.ErrNilBus), ShouldBeTrue)
	})
}

func TestPublisherAcrossRestarts(t *testing.T) {
	Convey("Given two process runs publishing to one bus", t, func() {
		ctx := context.Background()
		shared := bus.NewMemoryBus()
		started := time.Now()

		run := func(at time.Time, user string, score int64) *topk.Cache {
			p, err := fanout.New(shared, fanout.WithHeartbeatInterval(0))
			So(err, ShouldBeNil)
			c, err := topk.New(topk.WithK(3),
				topk.WithStartVersion(topk.EpochVersion(at)),
				topk.WithObserver(p.Observe))
			So(err, ShouldBeNil)
			So(p.Start(ctx), ShouldBeNil)
			_, changed, err := c.Apply(ctx, row(user, score, 1))
			So(err, ShouldBeNil)
			So(changed, ShouldBeTrue)
			So(p.Stop(ctx), ShouldBeNil)
			return c
		}

		first := run(started, "alice", 10)
		second := run(started.Add(time.Second), "bob", 99)

		Convey("Then the restarted run gets fresh versions and its update is kept", func() {
			So(second.Snapshot().Version, ShouldBeGreaterThan, first.Snapshot().Version)

			msgs := shared.Messages(bus.SubjectsFor("topk.leaderboard").Updates)
			So(msgs, ShouldHaveLength, 2)
			So(msgs[0].ID, ShouldNotEqual, msgs[1].ID)

			last := decode(msgs)[1]
			So(last.Version, ShouldEqual, second.Snapshot().Version)
			So(last.Diff.Added, ShouldResemble, []model.Entry{{Rank: 1, UserID: "bob", Score: 99}})
		})
	})
}

// Package fanout turns top-K snapshot changes into change-feed messages.
//
// Changes are queued by the cache observer without blocking and published
// in version order by a single worker. Each message carries the diff from
// the last snapshot that reached the bus, so a failed or dropped publish
// is covered by the next one, which also attaches the full snapshot.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/topkboard/internal/adapters/mq/bus"
	"github.com/okian/topkboard/internal/adapters/mq/queue"
	"github.com/okian/topkboard/internal/adapters/mq/worker"
	"github.com/okian/topkboard/internal/domain/diff"
	"github.com/okian/topkboard/internal/domain/model"
	"github.com/okian/topkboard/internal/domain/topk"
	"github.com/okian/topkboard/pkg/logger"
	"github.com/okian/topkboard/pkg/metrics"
)

const (
	defaultPrefix        = "topk.leaderboard"
	defaultFullEvery     = 50
	defaultFullInterval  = 30 * time.Second
	defaultHeartbeat     = 5 * time.Second
	defaultQueueSize     = 4096
	defaultMaxRetries    = 3
	defaultRetryInterval = 20 * time.Millisecond
	maxRetryInterval     = 500 * time.Millisecond
)

type job struct {
	change topk.Change
	resync bool
}

// Publisher is the fanout publisher.
type Publisher struct {
	bus      bus.Bus
	subjects bus.Subjects
	prefix   string

	fullEvery     uint64
	fullInterval  time.Duration
	heartbeat     time.Duration
	queueSize     int
	maxRetries    uint64
	retryInterval time.Duration
	now           func() time.Time
	log           logger.Logger

	queue *queue.InMemoryQueue[job]
	pool  *worker.Pool[job]

	// latest is the newest snapshot handed to Observe.
	latest    atomic.Pointer[model.Snapshot]
	forceFull atomic.Bool

	// Owned by the single publishing worker.
	last        *model.Snapshot
	lastFullVer uint64
	lastFullAt  time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	hbDone    chan struct{}
}

// New creates a publisher writing to b.
func New(b bus.Bus, opts ...Option) (*Publisher, error) {
	if b == nil {
		return nil, ErrNilBus
	}
	p := &Publisher{
		bus:           b,
		prefix:        defaultPrefix,
		fullEvery:     defaultFullEvery,
		fullInterval:  defaultFullInterval,
		heartbeat:     defaultHeartbeat,
		queueSize:     defaultQueueSize,
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
		now:           time.Now,
		hbDone:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Named("fanout")
	}
	p.subjects = bus.SubjectsFor(p.prefix)
	p.queue = queue.NewInMemoryQueue[job](queue.WithCapacity(p.queueSize))
	p.pool = worker.NewPool[job](1, p.queue, worker.HandlerFunc[job](p.handle), worker.WithName("fanout"))
	return p, nil
}

// Subjects returns the subjects the publisher writes to and listens on.
func (p *Publisher) Subjects() bus.Subjects { return p.subjects }

// Start launches the publishing worker, the heartbeat loop and the resync
// subscription.
func (p *Publisher) Start(ctx context.Context) error {
	var err error
	p.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		p.cancel = cancel
		p.pool.Start(runCtx)
		go p.heartbeatLoop(runCtx)
		if e := p.bus.OnResync(p.RequestResync); e != nil {
			err = fmt.Errorf("subscribe resync: %w", e)
		}
	})
	return err
}

// Observe queues a snapshot change. It never blocks, so it is safe to use
// as the cache observer. A change that does not fit in the queue is
// dropped and the next published message carries the full snapshot.
func (p *Publisher) Observe(ch topk.Change) {
	cur := ch.Cur
	p.latest.Store(&cur)
	if !p.queue.Enqueue(context.Background(), job{change: ch}) {
		metrics.RecordPublishDropped()
		p.forceFull.Store(true)
		p.log.Warn(context.Background(), "change dropped, queue full",
			logger.Uint64("version", cur.Version))
	}
}

// RequestResync publishes the full current snapshot and attaches it to the
// next update as well.
func (p *Publisher) RequestResync() {
	p.forceFull.Store(true)
	cur := p.latest.Load()
	if cur == nil {
		return
	}
	if !p.queue.Enqueue(context.Background(), job{change: topk.Change{Cur: *cur}, resync: true}) {
		metrics.RecordPublishDropped()
	}
}

// Pending returns the number of queued changes.
func (p *Publisher) Pending() int { return p.queue.Len(context.Background()) }

// Seed sets the snapshot clients are assumed to hold before the first
// change, normally the cache's current snapshot at startup.
func (p *Publisher) Seed(s model.Snapshot) {
	p.latest.Store(&s)
}

// Stop publishes what is queued, bounded by ctx, then stops the heartbeat.
func (p *Publisher) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		if p.cancel == nil {
			_ = p.queue.Close()
			return
		}
		err = p.pool.Drain(ctx)
		if err != nil {
			err = p.pool.Shutdown(ctx)
		}
		p.cancel()
		<-p.hbDone
	})
	return err
}

func (p *Publisher) handle(ctx context.Context, j job) error {
	cur := j.change.Cur
	if j.resync {
		return p.publishSnapshot(ctx, cur)
	}

	base := j.change.Prev
	if p.last != nil {
		base = *p.last
	}
	if base.Version >= cur.Version {
		return nil
	}
	d := diff.Compute(base, cur)
	if d.Empty() {
		return nil
	}

	now := p.now()
	msg := Message{Type: TypeUpdate, Version: cur.Version, Diff: &d}
	full := p.forceFull.Swap(false) || j.change.Full ||
		cur.Version-p.lastFullVer >= p.fullEvery ||
		now.Sub(p.lastFullAt) >= p.fullInterval
	if full {
		snap := cur
		msg.Full = &snap
	}

	if err := p.send(ctx, p.subjects.Updates, "v"+strconv.FormatUint(cur.Version, 10), msg); err != nil {
		p.forceFull.Store(true)
		p.log.Warn(ctx, "publish failed, next update carries the full snapshot",
			logger.Uint64("version", cur.Version), logger.Error(err))
		return nil
	}

	p.last = &cur
	if full {
		p.lastFullVer = cur.Version
		p.lastFullAt = now
	}
	metrics.RecordPublish(TypeUpdate)
	metrics.RecordDiffSize(d.Size())
	return nil
}

func (p *Publisher) publishSnapshot(ctx context.Context, cur model.Snapshot) error {
	// An empty diff pinned to the current version keeps the one message
	// shape; subscribers replace their view with Full.
	d := model.Diff{
		FromVersion: cur.Version,
		ToVersion:   cur.Version,
		GeneratedAt: cur.GeneratedAt,
		Removed:     []string{},
		Added:       []model.Entry{},
		Moved:       []model.Move{},
	}
	msg := Message{Type: TypeUpdate, Version: cur.Version, Diff: &d, Full: &cur}
	if err := p.send(ctx, p.subjects.Updates, "", msg); err != nil {
		p.log.Warn(ctx, "resync publish failed", logger.Error(err))
		return nil
	}
	p.forceFull.Store(false)
	if p.last == nil || p.last.Version <= cur.Version {
		p.last = &cur
	}
	p.lastFullVer = cur.Version
	p.lastFullAt = p.now()
	metrics.RecordPublish(publishResync)
	return nil
}

// send marshals msg and publishes it with bounded retry.
func (p *Publisher) send(ctx context.Context, subject, msgID string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}

	start := time.Now()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryInterval
	b.MaxInterval = maxRetryInterval
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		if attempt > 0 {
			metrics.RecordPublishRetry()
		}
		attempt++
		return p.bus.Publish(ctx, subject, msgID, data)
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, p.maxRetries), ctx)); err != nil {
		metrics.RecordPublishError()
		metrics.RecordErrorByComponent("fanout", "publish_unavailable")
		return model.Wrap(model.ErrPublishUnavailable, err)
	}
	metrics.RecordPublishLatency(float64(time.Since(start).Microseconds()) / 1000)
	return nil
}

func (p *Publisher) heartbeatLoop(ctx context.Context) {
	defer close(p.hbDone)
	if p.heartbeat <= 0 {
		return
	}
	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Heartbeat(ctx)
		}
	}
}

// Heartbeat publishes one liveness message carrying the newest version.
func (p *Publisher) Heartbeat(ctx context.Context) {
	var version uint64
	if cur := p.latest.Load(); cur != nil {
		version = cur.Version
	}
	ts := p.now().UTC()
	data, err := json.Marshal(Message{Type: TypeHeartbeat, Version: version, TS: &ts})
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, p.subjects.Heartbeat, "", data); err != nil {
		metrics.RecordPublishError()
		p.log.Warn(ctx, "heartbeat publish failed", logger.Error(err))
		return
	}
	metrics.RecordPublish(TypeHeartbeat)
}

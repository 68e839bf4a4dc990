// Package reconcile rebuilds the top-K cache from the authoritative store
// and reports drift between the two.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/topkboard/internal/domain/model"
	"github.com/okian/topkboard/internal/domain/topk"
	"github.com/okian/topkboard/pkg/logger"
	"github.com/okian/topkboard/pkg/metrics"
)

const defaultInterval = 3 * time.Minute

// Cache is the part of the top-K cache the reconciler rebuilds.
type Cache interface {
	Rebuild(ctx context.Context, scan topk.ScanFunc) (prev, cur model.Snapshot, err error)
}

// Source streams the authoritative rows.
type Source interface {
	Scan(ctx context.Context, fn func(model.UserScore) error) error
}

// Reconciler runs one rebuild at a time.
type Reconciler struct {
	cache  Cache
	source Source

	mu   sync.Mutex
	last atomic.Pointer[model.DriftReport]

	interval time.Duration
	log      logger.Logger
}

// Option applies a configuration option to the Reconciler.
type Option func(*Reconciler)

// WithInterval sets the period of Run.
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a reconciler.
func New(cache Cache, source Source, opts ...Option) (*Reconciler, error) {
	if cache == nil || source == nil {
		return nil, ErrMissingDependency
	}
	r := &Reconciler{cache: cache, source: source, interval: defaultInterval}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Named("reconcile")
	}
	return r, nil
}

// Reconcile rebuilds the cache from a full scan of the store. When the
// rebuilt top K differs from the live one the cache publishes a new version
// flagged for a full-snapshot broadcast. Concurrent calls run one after the
// other; each performs its own pass.
func (r *Reconciler) Reconcile(ctx context.Context) (model.DriftReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	metrics.RecordReconcileRun()

	scanned := 0
	scan := func(ctx context.Context, fn func(model.UserScore) error) error {
		return r.source.Scan(ctx, func(row model.UserScore) error {
			scanned++
			return fn(row)
		})
	}

	prev, cur, err := r.cache.Rebuild(ctx, scan)
	took := time.Since(start)
	metrics.RecordReconcileDuration(float64(took.Microseconds()) / 1000)
	if err != nil {
		metrics.RecordReconcileError()
		metrics.RecordErrorByComponent("reconcile", "rebuild_failed")
		r.log.Error(ctx, "reconcile failed", logger.Error(err))
		return model.DriftReport{}, fmt.Errorf("reconcile: %w", err)
	}

	report := model.DriftReport{
		DriftDetected:   !model.SameEntries(prev.Entries, cur.Entries),
		PreviousTopK:    prev.Entries,
		RebuiltTopK:     cur.Entries,
		PreviousVersion: prev.Version,
		Version:         cur.Version,
		ScannedUsers:    scanned,
		Took:            took,
	}
	r.last.Store(&report)

	if report.DriftDetected {
		metrics.RecordReconcileDrift()
		r.log.Warn(ctx, "cache drift repaired",
			logger.Uint64("previous_version", prev.Version),
			logger.Uint64("version", cur.Version),
			logger.Int("scanned", scanned),
			logger.Duration("took", took))
	} else {
		r.log.Debug(ctx, "cache consistent with store",
			logger.Int("scanned", scanned), logger.Duration("took", took))
	}
	return report, nil
}

// Last returns the report of the most recent successful pass.
func (r *Reconciler) Last() (model.DriftReport, bool) {
	if p := r.last.Load(); p != nil {
		return *p, true
	}
	return model.DriftReport{}, false
}

// Run reconciles once immediately and then every interval until ctx is
// done.
func (r *Reconciler) Run(ctx context.Context) {
	_, _ = r.Reconcile(ctx)
	r.Loop(ctx)
}

// Loop reconciles every interval until ctx is done.
func (r *Reconciler) Loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.Reconcile(ctx)
		}
	}
}

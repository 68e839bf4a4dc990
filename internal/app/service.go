// Package service composes the score event pipeline: admission, the
// authoritative write, the top-K cache and, through the cache observer,
// the change feed.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/topkboard/internal/adapters/repository"
	"github.com/okian/topkboard/internal/domain/admission"
	"github.com/okian/topkboard/internal/domain/dedupe"
	"github.com/okian/topkboard/internal/domain/model"
	"github.com/okian/topkboard/internal/domain/topk"
	"github.com/okian/topkboard/pkg/logger"
	"github.com/okian/topkboard/pkg/metrics"
)

// Admitter runs the admission checks.
type Admitter interface {
	Admit(ctx context.Context, req model.IngestRequest) (admission.Outcome, error)
}

// Cache is the top-K view the pipeline feeds.
type Cache interface {
	Apply(ctx context.Context, row model.UserScore) (model.Snapshot, bool, error)
	Snapshot() model.Snapshot
	Rank(userID string) (model.Entry, error)
	Len() int
	K() int
}

// Publisher is the change-feed side of the pipeline.
type Publisher interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Seed(s model.Snapshot)
	RequestResync()
	Pending() int
}

// Reconciler repairs cache drift.
type Reconciler interface {
	Reconcile(ctx context.Context) (model.DriftReport, error)
	Loop(ctx context.Context)
	Last() (model.DriftReport, bool)
}

// Stats is a point-in-time view of the service.
type Stats struct {
	Started        bool               `json:"started"`
	K              int                `json:"k"`
	Version        uint64             `json:"version"`
	UsersTracked   int                `json:"usersTracked"`
	UsersStored    int                `json:"usersStored"`
	LedgerSize     int64              `json:"ledgerSize"`
	PublishPending int                `json:"publishPending"`
	LastReconcile  *model.DriftReport `json:"lastReconcile,omitempty"`
}

// Service implements the API dependencies for the leaderboard.
type Service struct {
	mu sync.RWMutex

	guard      Admitter
	ledger     dedupe.Ledger
	store      repository.Store
	cache      Cache
	publisher  Publisher
	reconciler Reconciler

	ledgerGCInterval time.Duration

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithPublisher attaches the change-feed publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithReconciler attaches the reconciler run on start and on its interval.
func WithReconciler(r Reconciler) Option {
	return func(s *Service) {
		s.reconciler = r
	}
}

// WithLedgerGCInterval sets how often expired ledger records are swept.
func WithLedgerGCInterval(d time.Duration) Option {
	return func(s *Service) {
		s.ledgerGCInterval = d
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service over its required components.
func New(guard Admitter, ledger dedupe.Ledger, store repository.Store, cache Cache, opts ...Option) (*Service, error) {
	if guard == nil || ledger == nil || store == nil || cache == nil {
		return nil, ErrMissingComponent
	}
	s := &Service{
		guard:            guard,
		ledger:           ledger,
		store:            store,
		cache:            cache,
		ledgerGCInterval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	return s, nil
}

// Start warms the cache from the store and starts the background loops:
// change-feed publishing, ledger GC and periodic reconciliation.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting leaderboard service...")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if s.publisher != nil {
		s.publisher.Seed(s.cache.Snapshot())
		if err := s.publisher.Start(runCtx); err != nil {
			cancel()
			return err
		}
	}

	if s.reconciler != nil {
		if _, err := s.reconciler.Reconcile(ctx); err != nil {
			s.logger.Warn(ctx, "startup reconcile failed", logger.Error(err))
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.reconciler.Loop(runCtx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		dedupe.RunGC(runCtx, s.ledger, s.ledgerGCInterval, nil)
	}()

	s.cancel = cancel
	s.started = true
	snap := s.cache.Snapshot()
	s.logger.Info(ctx, "leaderboard service started",
		logger.Int("k", s.cache.K()),
		logger.Uint64("version", snap.Version),
		logger.Int("users", s.cache.Len()),
	)
	return nil
}

// Stop publishes what is still queued, bounded by ctx, and stops the
// background loops.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping leaderboard service...")

	var err error
	if s.publisher != nil {
		err = s.publisher.Stop(ctx)
	}
	s.cancel()
	s.wg.Wait()

	s.started = false
	s.logger.Info(ctx, "leaderboard service stopped")
	return err
}

// Submit runs one score event through the pipeline. Once the store has
// committed the event the call succeeds, even if the cache update fails;
// the reconciler repairs the cache and the change feed follows the cache.
// A duplicate action token returns the first submission's result with
// LeaderboardChanged false.
func (s *Service) Submit(ctx context.Context, req model.IngestRequest) (model.IngestResult, error) {
	out, err := s.guard.Admit(ctx, req)
	if err != nil {
		if model.KindOf(err) == nil {
			err = model.Wrap(model.ErrStoreUnavailable, err)
		}
		return model.IngestResult{}, err
	}
	if out.Duplicate {
		return out.Result, nil
	}
	ev := out.Event

	start := time.Now()
	applied, err := s.store.ApplyDelta(ctx, ev)
	metrics.RecordStoreApplyLatency(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		return model.IngestResult{}, s.abort(ctx, ev, err)
	}

	// The write is committed; the rest runs to completion even if the
	// caller goes away.
	ctx = context.WithoutCancel(ctx)

	if !applied.Applied {
		metrics.RecordStoreReplay()
		res := model.IngestResult{EventID: ev.EventID, NewScore: applied.NewScore}.Replay()
		s.complete(ctx, ev, res)
		return res, nil
	}

	changed := false
	row := model.UserScore{UserID: ev.UserID, Score: applied.NewScore, UpdatedAt: applied.UpdatedAt}
	if _, ch, err := s.cache.Apply(ctx, row); err != nil {
		metrics.RecordCacheError()
		metrics.RecordErrorByComponent("cache", "apply_failed")
		s.logger.Warn(ctx, "cache update failed, reconciler will repair",
			logger.String("user_id", ev.UserID),
			logger.Error(model.Wrap(model.ErrCacheUnavailable, err)))
	} else {
		changed = ch
	}

	res := model.IngestResult{EventID: ev.EventID, NewScore: applied.NewScore, LeaderboardChanged: changed}
	s.complete(ctx, ev, res)
	return res, nil
}

// abort releases the action token of an event the store did not take.
func (s *Service) abort(ctx context.Context, ev model.ScoreEvent, cause error) error {
	if err := s.ledger.Release(context.WithoutCancel(ctx), ev.ActionTokenID); err != nil {
		s.logger.Warn(ctx, "release action token failed",
			logger.String("action_token_id", ev.ActionTokenID), logger.Error(err))
	}
	if errors.Is(cause, repository.ErrInvalidEvent) {
		return model.Wrap(model.ErrValidation, cause)
	}
	metrics.RecordStoreError()
	metrics.RecordErrorByComponent("store", "apply_failed")
	s.logger.Error(ctx, "store apply failed",
		logger.String("event_id", ev.EventID),
		logger.String("user_id", ev.UserID),
		logger.Error(cause))
	return model.Wrap(model.ErrStoreUnavailable, cause)
}

func (s *Service) complete(ctx context.Context, ev model.ScoreEvent, res model.IngestResult) {
	if err := s.ledger.Complete(ctx, ev.ActionTokenID, res); err != nil {
		s.logger.Warn(ctx, "ledger complete failed",
			logger.String("action_token_id", ev.ActionTokenID), logger.Error(err))
	}
}

// Snapshot returns the current top-K snapshot cut to limit entries. A
// non-positive limit returns all K.
func (s *Service) Snapshot(_ context.Context, limit int) model.Snapshot {
	snap := s.cache.Snapshot()
	if limit <= 0 {
		return snap
	}
	return snap.Limit(limit)
}

// Rank returns the user's rank among all users.
func (s *Service) Rank(_ context.Context, userID string) (model.Entry, error) {
	e, err := s.cache.Rank(userID)
	if errors.Is(err, topk.ErrNotFound) {
		return model.Entry{}, ErrUserNotFound
	}
	return e, err
}

// Reconcile runs one reconciliation pass now.
func (s *Service) Reconcile(ctx context.Context) (model.DriftReport, error) {
	if s.reconciler == nil {
		return model.DriftReport{}, ErrReconcileDisabled
	}
	return s.reconciler.Reconcile(ctx)
}

// Resync asks the change feed to publish the full snapshot.
func (s *Service) Resync(_ context.Context) error {
	if s.publisher == nil {
		return ErrPublishDisabled
	}
	s.publisher.RequestResync()
	return nil
}

// Stats returns service statistics for monitoring.
func (s *Service) Stats(ctx context.Context) Stats {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	snap := s.cache.Snapshot()
	st := Stats{
		Started:      started,
		K:            s.cache.K(),
		Version:      snap.Version,
		UsersTracked: s.cache.Len(),
		LedgerSize:   s.ledger.Size(),
	}
	if n, err := s.store.Count(ctx); err == nil {
		st.UsersStored = n
	} else {
		s.logger.Warn(ctx, "store count failed", logger.Error(err))
	}
	if s.publisher != nil {
		st.PublishPending = s.publisher.Pending()
	}
	if s.reconciler != nil {
		if r, ok := s.reconciler.Last(); ok {
			st.LastReconcile = &r
		}
	}

	metrics.UpdateLedgerSize(st.LedgerSize)
	return st
}

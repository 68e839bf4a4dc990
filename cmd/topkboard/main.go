package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/topkboard/internal/adapters/http/api"
	"github.com/okian/topkboard/internal/adapters/http/swagger"
	"github.com/okian/topkboard/internal/adapters/mq/bus"
	"github.com/okian/topkboard/internal/adapters/mq/fanout"
	"github.com/okian/topkboard/internal/adapters/repository"
	"github.com/okian/topkboard/internal/adapters/repository/postgres"
	service "github.com/okian/topkboard/internal/app"
	"github.com/okian/topkboard/internal/config"
	"github.com/okian/topkboard/internal/domain/admission"
	"github.com/okian/topkboard/internal/domain/dedupe"
	"github.com/okian/topkboard/internal/domain/reconcile"
	"github.com/okian/topkboard/internal/domain/topk"
	"github.com/okian/topkboard/pkg/logger"
	"github.com/okian/topkboard/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := run(); err != nil {
		logger.Get().Error(context.Background(), "topkboard exited", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	if err := app.svc.Start(ctx); err != nil {
		app.close(context.Background())
		return fmt.Errorf("start service: %w", err)
	}

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal or a listener failure
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout: stop intake first, then flush the feed
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	if err := app.svc.Stop(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "service stop failed", logger.Error(err))
	}
	app.close(shutdownCtx)

	log.Info(shutdownCtx, "server stopped")
	return err
}

// application is the wired process: the service, its HTTP handler and the
// external resources to release on shutdown.
type application struct {
	svc     *service.Service
	bus     bus.Bus
	handler http.Handler
	closers []func()
}

func (a *application) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	logger.Get().Debug(ctx, "resources released", logger.Int("count", len(a.closers)))
}

// build wires every component selected by cfg. Nothing is started.
func build(ctx context.Context, cfg *config.Config) (_ *application, err error) {
	log := logger.Get()
	app := &application{}
	defer func() {
		if err != nil {
			app.close(ctx)
		}
	}()

	var (
		store  repository.Store
		ledger dedupe.Ledger
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.closers = append(app.closers, pool.Close)
		store = postgres.NewStore(pool)
		ledger = postgres.NewLedger(pool, nil)
	default:
		store = repository.NewMemoryStore()
		ledger = dedupe.NewInMemoryLedger(dedupe.WithMaxSize(cfg.LedgerMaxSize))
	}

	var b bus.Bus
	switch cfg.BusDriver {
	case config.DriverNATS:
		nb, err := bus.DialNATS(ctx, cfg.NATSURL, cfg.NATSStream, cfg.SubjectPrefix,
			bus.WithConnectionName("topkboard"),
			bus.WithLogger(logger.Named("bus")))
		if err != nil {
			return nil, fmt.Errorf("dial nats: %w", err)
		}
		b = nb
	default:
		b = bus.NewMemoryBus()
	}
	app.closers = append(app.closers, func() {
		if err := b.Close(); err != nil {
			log.Warn(ctx, "bus close failed", logger.Error(err))
		}
	})

	guard, err := admission.New(ledger, cfg.SigningKeys(),
		admission.WithDeltaCap(cfg.DeltaCap),
		admission.WithClockSkew(cfg.ClockSkew()),
		admission.WithMaxProofTTL(cfg.MaxProofTTL()),
		admission.WithUserRate(cfg.RateUserPerSec, cfg.RateUserBurst),
		admission.WithSourceRate(cfg.RateSourcePerSec, cfg.RateSourceBurst),
	)
	if err != nil {
		return nil, fmt.Errorf("admission guard: %w", err)
	}

	pub, err := fanout.New(b,
		fanout.WithSubjectPrefix(cfg.SubjectPrefix),
		fanout.WithFullSnapshotEvery(uint64(max(cfg.FullSnapshotEvery, 0))),
		fanout.WithFullSnapshotInterval(cfg.FullSnapshotInterval()),
		fanout.WithHeartbeatInterval(cfg.HeartbeatInterval()),
		fanout.WithQueueSize(cfg.PublishQueueSize),
		fanout.WithMaxRetries(uint64(max(cfg.PublishMaxRetries, 0))),
	)
	if err != nil {
		return nil, fmt.Errorf("fanout publisher: %w", err)
	}

	cache, err := topk.New(
		topk.WithK(cfg.TopK),
		topk.WithStartVersion(topk.EpochVersion(time.Now())),
		topk.WithObserver(pub.Observe),
	)
	if err != nil {
		return nil, fmt.Errorf("top-k cache: %w", err)
	}

	rec, err := reconcile.New(cache, store, reconcile.WithInterval(cfg.ReconcileInterval()))
	if err != nil {
		return nil, fmt.Errorf("reconciler: %w", err)
	}

	svc, err := service.New(guard, ledger, store, cache,
		service.WithPublisher(pub),
		service.WithReconciler(rec),
		service.WithLedgerGCInterval(cfg.LedgerGCInterval()),
	)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}

	mux := http.NewServeMux()
	api.NewServer(svc, api.WithMaxLimit(cfg.MaxLeaderboardLimit)).Register(ctx, mux)
	swagger.Register(ctx, mux)

	app.svc = svc
	app.bus = b
	app.handler = api.RequestIDMiddleware(mux)
	log.Info(ctx, "components wired",
		logger.String("store", cfg.StoreDriver),
		logger.String("bus", cfg.BusDriver),
		logger.Int("k", cfg.TopK))
	return app, nil
}

// startSystemMetricsUpdater updates process metrics until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

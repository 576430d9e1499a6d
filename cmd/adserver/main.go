package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/analytics"
	"github.com/patrickwarner/adrotator/internal/api"
	"github.com/patrickwarner/adrotator/internal/config"
	"github.com/patrickwarner/adrotator/internal/db"
	"github.com/patrickwarner/adrotator/internal/logic"
	"github.com/patrickwarner/adrotator/internal/logic/selectors"
	"github.com/patrickwarner/adrotator/internal/observability"
	"github.com/patrickwarner/adrotator/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	metricsRegistry := observability.NewPrometheusRegistry()

	stores, err := db.OpenStores(cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	var events analytics.AnalyticsService
	if cfg.ClickHouseDSN != "" {
		ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN, cfg.CHMaxOpenConns, cfg.CHMaxIdleConns, cfg.CHConnMaxLifetime, metricsRegistry)
		if err != nil {
			logger.Warn("analytics disabled", zap.Error(err))
		} else {
			defer ch.Close()
			events = ch
		}
	}

	tieBreaker, err := selectors.ParseTieBreaker(cfg.TieBreak)
	if err != nil {
		return err
	}

	instanceID := uuid.NewString()
	pool := service.NewPoolCache(stores.Repo, metricsRegistry, logger)
	pool.InstanceID = instanceID
	if stores.Redis != nil {
		pool.Notifier = stores.Redis
	}
	pool.Warm(ctx)

	var poolSource service.PoolSource = pool
	if cfg.ReloadInterval <= 0 {
		poolSource = service.RepositoryPool{Repo: stores.Repo}
	}

	seen := logic.NewSeenTracker(stores.Seen, cfg.SeenTTL(), metricsRegistry, logger)
	counters := logic.NewCounterUpdater(stores.Repo, logic.CounterOptions{
		MaxAttempts:      cfg.CounterMaxAttempts,
		InitialBackoff:   cfg.CounterInitialBackoff,
		WriteTimeout:     cfg.CounterWriteTimeout,
		AnomalyTolerance: cfg.ClickAnomalyTolerance,
	}, metricsRegistry, logger)

	ads := service.New(poolSource, selectors.NewCooldownSelector(tieBreaker), seen, counters, events, cfg.Cooldown, metricsRegistry, logger)
	ads.RecordWait = cfg.RecordWait

	srvDeps := api.NewServer(logger, ads, pool, stores.Repo, metricsRegistry, cfg.DebugTrace, []byte(cfg.TokenSecret), cfg.TokenTTL)
	for name, check := range stores.HealthChecks() {
		srvDeps.AddHealthCheck(name, api.HealthCheck(check))
	}

	r := mux.NewRouter()
	srvDeps.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(r, cfg.ServiceName),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Ad rotation server running",
		zap.String("addr", addr),
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("instance_id", instanceID),
		zap.Duration("cooldown", cfg.Cooldown))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	var updates <-chan string
	if stores.Redis != nil {
		updates, err = stores.Redis.SubscribePoolUpdates(ctx)
		if err != nil {
			logger.Warn("pool update subscription unavailable", zap.Error(err))
		}
	}
	go pool.Run(ctx, cfg.ReloadInterval, updates)

	if cfg.PruneInterval > 0 && cfg.Cooldown > 0 {
		go runPruner(ctx, seen, cfg)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := ads.Wait(shutdownCtx); err != nil {
		logger.Warn("selection writes still pending at shutdown", zap.Error(err))
	}

	return nil
}

// runPruner deletes seen records that can no longer influence selection.
// The tracker logs and counts each pass.
func runPruner(ctx context.Context, seen *logic.SeenTracker, cfg config.Config) {
	ticker := time.NewTicker(cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			_, _ = seen.Prune(ctx, cfg.PruneBefore(now))
		}
	}
}

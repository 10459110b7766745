package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agenticcore/platform/internal/handler"
	"github.com/agenticcore/platform/internal/infra"
	"github.com/agenticcore/platform/internal/metrics"
	"github.com/agenticcore/platform/internal/projection"
	"github.com/agenticcore/platform/internal/reconcile"
	"github.com/agenticcore/platform/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("outbox relay failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("outbox-relay connected to postgres")

	m := metrics.New(prometheus.DefaultRegisterer)

	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Error("close kafka producer", "error", err)
		}
	}()

	relay := infra.NewOutboxRelay(pool, repository.NewOutboxRepository(), producer, m, cfg, logger)

	// Read-only reconciler behind the ops router
	checker := reconcile.New(pool, repository.NewTxRunner(pool), repository.NewEventStore(),
		repository.NewSnapshotStore(), projection.New(repository.NewPolicyReadModel()), nil, m, logger,
		cfg.ReconcileConcurrency)

	srv := &http.Server{
		Addr: cfg.MetricsAddr,
		Handler: handler.NewOpsRouter(handler.OpsDeps{
			Logger: logger,
			Checks: map[string]handler.HealthCheck{
				"postgres": func(ctx context.Context) error { return infra.HealthCheck(ctx, pool) },
			},
			Checker: checker,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ops server starting", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("outbox-relay stopped gracefully")
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agenticcore/platform/internal/coordinator"
	"github.com/agenticcore/platform/internal/governance"
	"github.com/agenticcore/platform/internal/guard"
	"github.com/agenticcore/platform/internal/infra"
	"github.com/agenticcore/platform/internal/metrics"
	"github.com/agenticcore/platform/internal/projection"
	"github.com/agenticcore/platform/internal/reconcile"
	"github.com/agenticcore/platform/internal/repository"
	"github.com/agenticcore/platform/internal/service"
	"github.com/prometheus/client_golang/prometheus"
)

// env is the wired policy core a subcommand runs against.
type env struct {
	cfg        *infra.Config
	service    *service.PolicyService
	reconciler *reconcile.Reconciler
	close      func()
}

// connector opens an env. Tests substitute one backed by in-memory stores.
type connector func(ctx context.Context, cfg *infra.Config, logger *slog.Logger) (*env, error)

// connect wires the Postgres stores, the optional Redis summary cache, the
// coordinator, the service and the reconciler.
func connect(ctx context.Context, cfg *infra.Config, logger *slog.Logger) (*env, error) {
	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	closers := []func(){pool.Close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var cache projection.Store
	if cfg.RedisEnabled {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		cache = infra.NewRedisStore(client)
		closers = append(closers, func() { _ = client.Close() })
	}

	m := metrics.New(prometheus.NewRegistry())
	tx := repository.NewTxRunner(pool)
	events := repository.NewEventStore()
	snapshots := repository.NewSnapshotStore()
	readModel := repository.NewPolicyReadModel()
	proj := projection.New(readModel)

	coord := coordinator.New(tx, events, snapshots, repository.NewOutboxRepository(), proj, cache, m, logger,
		coordinator.Options{
			SnapshotInterval: cfg.SnapshotInterval,
			MaxAttempts:      cfg.AppendMaxAttempts,
			Backoff:          cfg.AppendBackoff,
		})

	svc := service.NewPolicyService(service.PolicyServiceDeps{
		DB:          pool,
		Events:      events,
		Snapshots:   snapshots,
		ReadModel:   readModel,
		Coordinator: coord,
		Governance:  governance.AllowAll{},
		Breaker:     guard.NewCircuitBreaker(5, 30*time.Second),
		Cache:       cache,
		Metrics:     m,
		Logger:      logger,
	}, cfg.CommandMaxRetries, cfg.SummaryCacheTTL)

	rec := reconcile.New(pool, tx, events, snapshots, proj, cache, m, logger, cfg.ReconcileConcurrency)

	return &env{cfg: cfg, service: svc, reconciler: rec, close: closeAll}, nil
}

//go:build integration

package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	TestDBName = "agenticcore_test"
	TestDBUser = "agenticcore"
	TestDBPass = "agenticcore"
)

// TestEnv holds the policy core wired against the shared Postgres container.
type TestEnv struct {
	Pool        *pgxpool.Pool
	DSN         string
	Events      repository.EventStore
	Snapshots   repository.SnapshotStore
	ReadModel   repository.PolicyReadModel
	Outbox      repository.OutboxRepository
	Tx          repository.TxRunner
	Projection  *projection.Projection
	Coordinator *coordinator.Coordinator
	Service     *service.PolicyService
	Reconciler  *reconcile.Reconciler
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	t           *testing.T
}

// Options tweaks the wiring of one TestEnv.
type Options struct {
	Cache            projection.Store
	SnapshotInterval int
	Rating           *FixedRating
}

var (
	sharedPool *pgxpool.Pool
	sharedDSN  string
	poolOnce   sync.Once
	poolErr    error
)

// startPostgres runs one container per test binary and migrates it. Ryuk
// removes the container when the binary exits.
func startPostgres() (*pgxpool.Pool, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase(TestDBName),
		tcpostgres.WithUsername(TestDBUser),
		tcpostgres.WithPassword(TestDBPass),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", fmt.Errorf("start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, "", fmt.Errorf("postgres connection string: %w", err)
	}

	if err := infra.RunMigrations(dsn, quietLogger()); err != nil {
		_ = container.Terminate(context.Background())
		return nil, "", fmt.Errorf("run migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("parse pool config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, "", fmt.Errorf("create pool: %w", err)
	}
	return pool, dsn, nil
}

func getSharedPool(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()
	poolOnce.Do(func() {
		sharedPool, sharedDSN, poolErr = startPostgres()
	})
	if poolErr != nil {
		t.Fatalf("failed to initialize test pool: %v", poolErr)
	}
	return sharedPool, sharedDSN
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestEnv wires the Postgres-backed policy core with default options.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	return NewTestEnvWith(t, Options{SnapshotInterval: coordinator.DefaultSnapshotInterval})
}

// NewTestEnvWith wires the Postgres-backed policy core. Tables are
// truncated before and after the test.
func NewTestEnvWith(t *testing.T, opts Options) *TestEnv {
	t.Helper()

	pool, dsn := getSharedPool(t)
	logger := quietLogger()
	m := metrics.New(prometheus.NewRegistry())

	env := &TestEnv{
		Pool:      pool,
		DSN:       dsn,
		Events:    repository.NewEventStore(),
		Snapshots: repository.NewSnapshotStore(),
		ReadModel: repository.NewPolicyReadModel(),
		Outbox:    repository.NewOutboxRepository(),
		Tx:        repository.NewTxRunner(pool),
		Metrics:   m,
		Logger:    logger,
		t:         t,
	}
	env.Projection = projection.New(env.ReadModel)
	env.Coordinator = coordinator.New(env.Tx, env.Events, env.Snapshots, env.Outbox, env.Projection,
		opts.Cache, m, logger, coordinator.Options{SnapshotInterval: opts.SnapshotInterval})

	rating := opts.Rating
	if rating == nil {
		rating = &FixedRating{}
	}
	env.Service = service.NewPolicyService(service.PolicyServiceDeps{
		DB:          pool,
		Events:      env.Events,
		Snapshots:   env.Snapshots,
		ReadModel:   env.ReadModel,
		Coordinator: env.Coordinator,
		Governance:  governance.AllowAll{},
		Rating:      rating,
		Breaker:     guard.NewCircuitBreaker(3, time.Minute),
		Cache:       opts.Cache,
		Metrics:     m,
		Logger:      logger,
	}, 3, time.Minute)
	env.Reconciler = reconcile.New(pool, env.Tx, env.Events, env.Snapshots, env.Projection, opts.Cache,
		m, logger, 4)

	t.Cleanup(env.CleanAll)
	env.CleanAll()
	return env
}

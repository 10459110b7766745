package coordinator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/metrics"
	"github.com/agenticcore/platform/internal/policy"
	"github.com/agenticcore/platform/internal/policy/policytest"
	"github.com/agenticcore/platform/internal/projection"
	"github.com/agenticcore/platform/internal/repository/repositorytest"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	events    *repositorytest.EventStore
	snapshots *repositorytest.SnapshotStore
	outbox    *repositorytest.Outbox
	rm        *projection.InMemoryReadModel
	tx        *repositorytest.TxRunner
	cache     *projection.InMemoryStore
	metrics   *metrics.Metrics
	coord     *Coordinator
	slept     []time.Duration
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		events:    repositorytest.NewEventStore(),
		snapshots: repositorytest.NewSnapshotStore(),
		outbox:    repositorytest.NewOutbox(),
		rm:        projection.NewInMemoryReadModel(),
		cache:     projection.NewInMemoryStore(),
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	env.tx = repositorytest.NewTxRunner(env.events, env.snapshots, env.outbox, env.rm)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.coord = New(env.tx, env.events, env.snapshots, env.outbox, projection.New(env.rm), env.cache, env.metrics, logger, opts)
	env.coord.sleep = func(_ context.Context, d time.Duration) error {
		env.slept = append(env.slept, d)
		return nil
	}
	return env
}

func (env *testEnv) history(t *testing.T, id uuid.UUID) []domain.Event {
	t.Helper()
	events, err := env.events.GetEvents(context.Background(), nil, id, 0)
	require.NoError(t, err)
	return events
}

func transient() error {
	return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
}

func TestCommit_PersistsProjectsAndClears(t *testing.T) {
	env := newTestEnv(t, Options{SnapshotInterval: DefaultSnapshotInterval})
	ctx := context.Background()
	id := uuid.New()
	p := policytest.Quoted(id)
	pending := p.UncommittedEvents()

	require.NoError(t, env.coord.Commit(ctx, p))

	assert.Empty(t, p.UncommittedEvents())
	assert.Equal(t, pending, env.history(t, id))

	row, err := env.rm.FindByID(ctx, nil, id)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "quoted", row.Status)
	assert.Equal(t, p.Version(), row.Version)

	rows := env.outbox.Rows()
	require.Len(t, rows, len(pending))
	for i, r := range rows {
		assert.Equal(t, pending[i].ID, r.EventID)
		assert.Equal(t, pending[i].Type(), r.EventType)
		assert.Equal(t, id.String(), r.PartitionKey)
	}
	assert.Equal(t, 1, env.tx.Commits)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.EventsAppended.WithLabelValues("Submitted")))
}

func TestCommit_NothingPendingIsNoop(t *testing.T) {
	env := newTestEnv(t, Options{})
	p := policytest.Committed(policytest.Draft(uuid.New()))

	require.NoError(t, env.coord.Commit(context.Background(), p))
	assert.Equal(t, 0, env.tx.Attempts)
}

func TestCommit_IncrementalCommitsUseExpectedVersion(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	id := uuid.New()
	p := policytest.Draft(id)
	require.NoError(t, env.coord.Commit(ctx, p))

	require.NoError(t, p.Submit(policytest.Meta))
	require.NoError(t, p.StartUnderwritingReview("uw-1", 40, policytest.Meta))
	require.NoError(t, env.coord.Commit(ctx, p))

	history := env.history(t, id)
	require.Len(t, history, 3)
	for i, e := range history {
		assert.Equal(t, i+1, e.Version)
	}
}

func TestCommit_StaleAggregateConflicts(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, env.coord.Commit(ctx, policytest.Draft(id)))

	first, err := policy.LoadFromHistory(id, env.history(t, id))
	require.NoError(t, err)
	second, err := policy.LoadFromHistory(id, env.history(t, id))
	require.NoError(t, err)

	require.NoError(t, first.Submit(policytest.Meta))
	require.NoError(t, env.coord.Commit(ctx, first))

	require.NoError(t, second.Submit(policytest.Meta))
	err = env.coord.Commit(ctx, second)

	var conflict *domain.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, id, conflict.AggregateID)
	assert.Equal(t, 1, conflict.Expected)
	assert.Equal(t, 2, conflict.Actual)

	assert.Len(t, second.UncommittedEvents(), 1, "buffer kept for the caller")
	assert.Len(t, env.history(t, id), 2)
	assert.Len(t, env.outbox.Rows(), 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ConcurrencyConflicts))
	assert.Empty(t, env.slept, "conflicts are not retried here")
}

func TestCommit_ConcurrentWritersExactlyOneWins(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, env.coord.Commit(ctx, policytest.Draft(id)))

	const writers = 8
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		p, err := policy.LoadFromHistory(id, env.history(t, id))
		require.NoError(t, err)
		require.NoError(t, p.Submit(policytest.Meta))

		wg.Add(1)
		go func(i int, p *policy.Policy) {
			defer wg.Done()
			errs[i] = env.coord.Commit(ctx, p)
		}(i, p)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case domain.IsConcurrencyConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)
	assert.Len(t, env.history(t, id), 2)
}

func TestCommit_ProjectionFailureRollsBackAppend(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	id := uuid.New()

	// History exists but the read model was never built.
	draft := policytest.Draft(id)
	env.events.Put(draft.UncommittedEvents()...)

	p, err := policy.LoadFromHistory(id, env.history(t, id))
	require.NoError(t, err)
	require.NoError(t, p.Submit(policytest.Meta))

	err = env.coord.Commit(ctx, p)
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodeNotFound))

	assert.Len(t, env.history(t, id), 1)
	assert.Empty(t, env.outbox.Rows())
	assert.Len(t, p.UncommittedEvents(), 1)
	assert.Equal(t, 1, env.tx.Rollbacks)
}

func TestCommit_RetriesTransientFailures(t *testing.T) {
	env := newTestEnv(t, Options{MaxAttempts: 3, Backoff: 10 * time.Millisecond})
	env.tx.FailWith = func(attempt int) error {
		if attempt < 3 {
			return transient()
		}
		return nil
	}
	id := uuid.New()

	require.NoError(t, env.coord.Commit(context.Background(), policytest.Draft(id)))

	assert.Equal(t, 3, env.tx.Attempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, env.slept)
	assert.Len(t, env.history(t, id), 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.CommitRetries))
}

func TestCommit_GivesUpAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t, Options{MaxAttempts: 2, Backoff: time.Millisecond})
	env.tx.FailWith = func(int) error { return transient() }
	id := uuid.New()
	p := policytest.Draft(id)

	err := env.coord.Commit(context.Background(), p)

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "40001", pgErr.Code)
	assert.Equal(t, 2, env.tx.Attempts)
	assert.Empty(t, env.history(t, id))
	assert.Len(t, p.UncommittedEvents(), 1)
}

func TestCommit_CancelledContextLeavesNothing(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	id := uuid.New()
	p := policytest.Draft(id)

	err := env.coord.Commit(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, env.history(t, id))
	assert.Len(t, p.UncommittedEvents(), 1)
}

func TestCommit_SnapshotOnIntervalBoundary(t *testing.T) {
	env := newTestEnv(t, Options{SnapshotInterval: 10})
	ctx := context.Background()
	id := uuid.New()

	draft := policytest.Draft(id)
	require.NoError(t, env.coord.Commit(ctx, draft))
	snap, err := env.snapshots.GetSnapshot(ctx, nil, id)
	require.NoError(t, err)
	assert.Nil(t, snap, "version 1 does not cross a boundary")

	p := policytest.InForce(uuid.New())
	require.NoError(t, env.coord.Commit(ctx, p))
	snap, err = env.snapshots.GetSnapshot(ctx, nil, p.AggregateID())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 13, snap.Version)
	assert.Equal(t, domain.AggregatePolicy, snap.AggregateType)

	restored, err := policy.FromSnapshot(p.AggregateID(), snap.Version, snap.State)
	require.NoError(t, err)
	assert.Equal(t, p.Status(), restored.Status())
	assert.Equal(t, p.Premium(), restored.Premium())
	assert.Equal(t, p.PolicyNumber(), restored.PolicyNumber())
	assert.Equal(t, 13, restored.Version())
}

func TestCommit_SnapshotsDisabled(t *testing.T) {
	env := newTestEnv(t, Options{SnapshotInterval: 0})
	p := policytest.InForce(uuid.New())

	require.NoError(t, env.coord.Commit(context.Background(), p))
	snap, err := env.snapshots.GetSnapshot(context.Background(), nil, p.AggregateID())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestCommit_InvalidatesSummaryCache(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, projection.PutSummary(ctx, env.cache, domain.PolicySummary{Policy: domain.PolicyView{ID: id}}, time.Minute))

	require.NoError(t, env.coord.Commit(ctx, policytest.Draft(id)))

	_, err := projection.GetSummary(ctx, env.cache, id)
	assert.ErrorIs(t, err, projection.ErrNotCached)
}

func TestSnapshotDue(t *testing.T) {
	c := &Coordinator{opts: Options{SnapshotInterval: 10}}
	assert.False(t, c.snapshotDue(0, 9))
	assert.True(t, c.snapshotDue(9, 10))
	assert.True(t, c.snapshotDue(8, 12))
	assert.False(t, c.snapshotDue(10, 19))
	assert.True(t, c.snapshotDue(19, 31))

	off := &Coordinator{opts: Options{}}
	assert.False(t, off.snapshotDue(0, 100))
}

var _ Snapshotter = (*policy.Policy)(nil)

func TestSnapshotterState(t *testing.T) {
	p := policytest.InForce(uuid.New())
	raw, err := p.ToSnapshot()
	require.NoError(t, err)
	assert.True(t, json.Valid(raw))
}

//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/agenticcore/platform/internal/coordinator"
	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/infra"
	"github.com/agenticcore/platform/internal/projection"
	"github.com/agenticcore/platform/test/integration/testutil"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	rc := testutil.NewRedisContainer(t)
	store := infra.NewRedisStore(rc.Client)
	ctx := context.Background()

	t.Run("set get delete", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k1", []byte(`{"a":1}`), time.Minute))
		got, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1}`, string(got))

		require.NoError(t, store.Delete(ctx, "k1"))
		_, err = store.Get(ctx, "k1")
		assert.ErrorIs(t, err, projection.ErrNotCached)
	})

	t.Run("ttl is applied", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k2", []byte(`1`), time.Minute))
		ttl, err := rc.Client.TTL(ctx, "k2").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, time.Minute)
	})

	t.Run("health", func(t *testing.T) {
		assert.NoError(t, store.Health(ctx))
	})

	require.NoError(t, rc.FlushAll(ctx))
}

func TestSummaryCache_InvalidatedOnCommit(t *testing.T) {
	rc := testutil.NewRedisContainer(t)
	store := infra.NewRedisStore(rc.Client)
	env := testutil.NewTestEnvWith(t, testutil.Options{
		Cache:            store,
		SnapshotInterval: coordinator.DefaultSnapshotInterval,
	})
	ctx := context.Background()
	id, _ := env.CreateInForce("A1")

	lookups := func(result string) float64 {
		return promtestutil.ToFloat64(env.Metrics.CacheLookups.WithLabelValues(result))
	}

	first, err := env.Service.GetPolicy(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, lookups("miss"))

	cached, err := projection.GetSummary(ctx, store, id)
	require.NoError(t, err)
	assert.Equal(t, first.Policy.Version, cached.Policy.Version)

	_, err = env.Service.GetPolicy(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, lookups("hit"))

	_, err = env.Service.RequestCancellation(ctx, id, "insured request", domain.MustDate("2026-05-01"), "insured", testutil.Meta)
	require.NoError(t, err)

	_, err = projection.GetSummary(ctx, store, id)
	assert.ErrorIs(t, err, projection.ErrNotCached, "commit drops the cached summary")

	fresh, err := env.Service.GetPolicy(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "cancellation_pending", fresh.Policy.Status)
	assert.Equal(t, 14, fresh.Policy.Version)
	assert.Equal(t, 2.0, lookups("miss"))
}

func TestSummaryCache_RepairInvalidates(t *testing.T) {
	rc := testutil.NewRedisContainer(t)
	store := infra.NewRedisStore(rc.Client)
	ctx := context.Background()

	env := testutil.NewTestEnvWith(t, testutil.Options{Cache: store})
	id := env.CreateSubmission("A1")
	stale := domain.PolicySummary{Policy: domain.PolicyView{ID: id, Status: "quoted", Version: 99}}
	require.NoError(t, projection.PutSummary(ctx, store, stale, time.Minute))

	require.NoError(t, env.Reconciler.Repair(ctx, id))
	_, err := projection.GetSummary(ctx, store, id)
	assert.ErrorIs(t, err, projection.ErrNotCached)
}

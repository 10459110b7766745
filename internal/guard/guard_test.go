package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(threshold, reset)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_ClosedByDefault(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	result := cb.Check(context.Background(), "rating")
	assert.True(t, result.Allowed)
	assert.Equal(t, CircuitClosed, cb.State("rating"))
}

func TestCircuitBreaker_OpensOnThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	ctx := context.Background()

	cb.Check(ctx, "rating")
	cb.RecordFailure("rating")
	cb.RecordFailure("rating")
	cb.RecordFailure("rating")

	result := cb.Check(ctx, "rating")
	assert.False(t, result.Allowed)
	assert.Equal(t, "circuit_breaker", result.Guard)
	assert.Equal(t, CircuitOpen, cb.State("rating"))
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	ctx := context.Background()

	cb.Check(ctx, "rating")
	cb.RecordFailure("rating")
	cb.RecordFailure("rating")
	cb.RecordSuccess("rating")
	cb.RecordFailure("rating")

	result := cb.Check(ctx, "rating")
	assert.True(t, result.Allowed)
}

func TestCircuitBreaker_KeysAreIndependent(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	ctx := context.Background()

	cb.RecordFailure("rating")
	assert.False(t, cb.Check(ctx, "rating").Allowed)
	assert.True(t, cb.Check(ctx, "governance").Allowed)
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	cb.RecordFailure("rating")
	assert.False(t, cb.Check(ctx, "rating").Allowed)

	*now = now.Add(2 * time.Minute)
	assert.True(t, cb.Check(ctx, "rating").Allowed, "first probe")
	assert.Equal(t, CircuitHalfOpen, cb.State("rating"))
	assert.False(t, cb.Check(ctx, "rating").Allowed, "second concurrent probe")

	cb.RecordSuccess("rating")
	assert.Equal(t, CircuitClosed, cb.State("rating"))
	assert.True(t, cb.Check(ctx, "rating").Allowed)
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, now := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.RecordFailure("rating")
	}
	*now = now.Add(2 * time.Minute)
	require.True(t, cb.Check(ctx, "rating").Allowed)

	cb.RecordFailure("rating")
	assert.Equal(t, CircuitOpen, cb.State("rating"))
	assert.False(t, cb.Check(ctx, "rating").Allowed)
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	ctx := context.Background()
	boom := errors.New("rating engine down")
	calls := 0
	fail := func(context.Context) error { calls++; return boom }

	assert.ErrorIs(t, cb.Execute(ctx, "rating", fail), boom)
	assert.ErrorIs(t, cb.Execute(ctx, "rating", fail), boom)

	err := cb.Execute(ctx, "rating", fail)
	assert.True(t, domain.HasCode(err, domain.CodeUnavailable))
	assert.Equal(t, 2, calls)
}

func TestCircuitBreaker_ExecuteIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, "rating", func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, cb.State("rating"))
}

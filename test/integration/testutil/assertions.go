//go:build integration

package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/agenticcore/platform/internal/policy"
	"github.com/google/uuid"
)

// AssertContiguous checks that the stored versions of id run 1..want.
func AssertContiguous(t *testing.T, env *TestEnv, id uuid.UUID, want int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := env.Events.GetEvents(ctx, env.Pool, id, 0)
	if err != nil {
		t.Fatalf("AssertContiguous: %v", err)
	}
	if len(events) != want {
		t.Fatalf("AssertContiguous: expected %d events, got %d", want, len(events))
	}
	for i, e := range events {
		if e.Version != i+1 {
			t.Errorf("event %d: expected version %d, got %d", i, i+1, e.Version)
		}
	}
}

// AssertReadModelMatchesFold replays id's history and compares the fold
// with its policies row.
func AssertReadModelMatchesFold(t *testing.T, env *TestEnv, id uuid.UUID) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := env.Events.GetEvents(ctx, env.Pool, id, 0)
	if err != nil {
		t.Fatalf("AssertReadModelMatchesFold: events: %v", err)
	}
	folded, err := policy.LoadFromHistory(id, events)
	if err != nil {
		t.Fatalf("AssertReadModelMatchesFold: fold: %v", err)
	}
	row, err := env.ReadModel.FindByID(ctx, env.Pool, id)
	if err != nil || row == nil {
		t.Fatalf("AssertReadModelMatchesFold: row: %v (nil row: %t)", err, row == nil)
	}

	if row.Version != folded.Version() {
		t.Errorf("version: row %d, fold %d", row.Version, folded.Version())
	}
	if row.Status != string(folded.Status()) {
		t.Errorf("status: row %s, fold %s", row.Status, folded.Status())
	}
	if row.Premium != folded.Premium() {
		t.Errorf("premium: row %s, fold %s", row.Premium, folded.Premium())
	}
	if row.PolicyNumber != folded.PolicyNumber() {
		t.Errorf("policy number: row %q, fold %q", row.PolicyNumber, folded.PolicyNumber())
	}
}

// OutboxCount returns the number of outbox rows, optionally only the
// unpublished ones.
func OutboxCount(t *testing.T, env *TestEnv, unpublishedOnly bool) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := `SELECT count(*) FROM event_outbox`
	if unpublishedOnly {
		q += ` WHERE published_at IS NULL`
	}
	var n int
	if err := env.Pool.QueryRow(ctx, q).Scan(&n); err != nil {
		t.Fatalf("OutboxCount: %v", err)
	}
	return n
}

//go:build integration

package testutil

import (
	"context"
	"time"
)

// CleanAll truncates every table the policy core writes.
func (env *TestEnv) CleanAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := env.Pool.Exec(ctx, `
		TRUNCATE TABLE policy_coverages, policy_risks, policies,
			event_outbox, event_store_snapshots, event_store
		RESTART IDENTITY CASCADE`)
	if err != nil {
		env.t.Fatalf("CleanAll: %v", err)
	}
}

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/policy"
	"github.com/agenticcore/platform/internal/reconcile"
	"github.com/agenticcore/platform/test/integration/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var endorsementChanges = []domain.FieldChange{{
	Field:    "vehicle.year",
	OldValue: json.RawMessage(`2024`),
	NewValue: json.RawMessage(`2025`),
}}

func TestPolicyLifecycle_NewBusiness(t *testing.T) {
	env := testutil.NewTestEnv(t)
	ctx := context.Background()

	id, number := env.CreateInForce("A1")

	summary, err := env.Service.GetPolicy(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "in_force", summary.Policy.Status)
	assert.Equal(t, domain.NewMoney(1500, "USD"), summary.Policy.Premium)
	assert.Equal(t, number, summary.Policy.PolicyNumber)
	assert.Equal(t, "A1", summary.Policy.AccountID)
	assert.Equal(t, testutil.EffectiveDate, summary.Policy.EffectiveDate)
	assert.Equal(t, domain.MustDate("2027-03-01"), summary.Policy.ExpirationDate)
	assert.Equal(t, 13, summary.Policy.Version)
	require.Len(t, summary.Risks, 1)
	assert.Equal(t, "vehicle", summary.Risks[0].RiskType)
	require.Len(t, summary.Coverages, 1)
	assert.Equal(t, "liability", summary.Coverages[0].CoverageCode)
	assert.Equal(t, domain.NewMoney(100000, "USD"), summary.Coverages[0].Limit)

	testutil.AssertContiguous(t, env, id, 13)
	testutil.AssertReadModelMatchesFold(t, env, id)
	assert.Equal(t, 13, testutil.OutboxCount(t, env, true))

	byNumber, err := env.Service.GetPolicyByNumber(ctx, number)
	require.NoError(t, err)
	assert.Equal(t, id, byNumber.ID)
}

func TestPolicyLifecycle_Endorsement(t *testing.T) {
	env := testutil.NewTestEnv(t)
	ctx := context.Background()
	id, _ := env.CreateInForce("A1")

	status, err := env.Service.RequestEndorsement(ctx, id, endorsementChanges, domain.MustDate("2026-06-01"), testutil.Meta)
	require.NoError(t, err)
	assert.Equal(t, policy.StatusEndorsementPending, status)

	status, err = env.Service.ApplyEndorsement(ctx, id, "", domain.NewMoney(50, "USD"), testutil.Meta)
	require.NoError(t, err)
	assert.Equal(t, policy.StatusInForce, status)

	row, err := env.ReadModel.FindByID(ctx, env.Pool, id)
	require.NoError(t, err)
	assert.Equal(t, domain.NewMoney(1550, "USD"), row.Premium)
	assert.Equal(t, "in_force", row.Status)
	assert.Equal(t, 15, row.Version)

	t.Run("currency mismatch leaves premium unchanged", func(t *testing.T) {
		_, err := env.Service.RequestEndorsement(ctx, id, endorsementChanges, domain.MustDate("2026-07-01"), testutil.Meta)
		require.NoError(t, err)

		_, err = env.Service.ApplyEndorsement(ctx, id, "", domain.NewMoney(50, "EUR"), testutil.Meta)
		var mismatch *domain.CurrencyMismatchError
		require.True(t, errors.As(err, &mismatch), "got %v", err)

		row, err := env.ReadModel.FindByID(ctx, env.Pool, id)
		require.NoError(t, err)
		assert.Equal(t, domain.NewMoney(1550, "USD"), row.Premium)
		assert.Equal(t, "endorsement_pending", row.Status)
		testutil.AssertContiguous(t, env, id, 16)
	})
}

func TestPolicyLifecycle_CancelAndReinstate(t *testing.T) {
	env := testutil.NewTestEnv(t)
	ctx := context.Background()
	id, _ := env.CreateInForce("A1")

	steps := []struct {
		name string
		run  func() (policy.Status, error)
		want policy.Status
	}{
		{"request cancellation", func() (policy.Status, error) {
			return env.Service.RequestCancellation(ctx, id, "non-payment", domain.MustDate("2026-05-01"), "insurer", testutil.Meta)
		}, policy.StatusCancellationPending},
		{"approve cancellation", func() (policy.Status, error) {
			return env.Service.ApproveCancellation(ctx, id, domain.NewMoney(750, "USD"), testutil.Meta)
		}, policy.StatusCancelled},
		{"request reinstatement", func() (policy.Status, error) {
			return env.Service.RequestReinstatement(ctx, id, "payment received", testutil.Meta)
		}, policy.StatusCancelled},
		{"approve reinstatement", func() (policy.Status, error) {
			return env.Service.ApproveReinstatement(ctx, id, []string{"no lapse in coverage"}, testutil.Meta)
		}, policy.StatusReinstated},
	}
	for _, step := range steps {
		status, err := step.run()
		require.NoError(t, err, step.name)
		assert.Equal(t, step.want, status, step.name)
	}

	testutil.AssertContiguous(t, env, id, 17)
	testutil.AssertReadModelMatchesFold(t, env, id)
}

func TestPolicyLifecycle_InvalidTransitionWritesNothing(t *testing.T) {
	env := testutil.NewTestEnv(t)
	ctx := context.Background()
	id := env.CreateSubmission("A1")

	_, err := env.Service.Bind(ctx, id, testutil.Meta)
	var ist *domain.InvalidStateTransitionError
	require.True(t, errors.As(err, &ist), "got %v", err)
	assert.Equal(t, "draft", ist.Current)

	testutil.AssertContiguous(t, env, id, 1)
	assert.Equal(t, 1, testutil.OutboxCount(t, env, false))
}

func TestPolicyLifecycle_ConcurrentCommandsAllLand(t *testing.T) {
	env := testutil.NewTestEnv(t)
	ctx := context.Background()
	id := env.CreateSubmission("A1")

	// Four writers race; each loses at most three times, within the retry budget.
	const writers = 4
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Service.AddRisk(ctx, id, "vehicle", json.RawMessage(`{"year":2024}`), testutil.Meta)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	testutil.AssertContiguous(t, env, id, 1+writers)
	testutil.AssertReadModelMatchesFold(t, env, id)

	summary, err := env.Service.GetPolicy(ctx, id)
	require.NoError(t, err)
	assert.Len(t, summary.Risks, writers)
}

func TestPolicyLifecycle_ListByAccount(t *testing.T) {
	env := testutil.NewTestEnv(t)
	ctx := context.Background()

	first := env.CreateSubmission("A7")
	second, _ := env.CreateInForce("A7")
	env.CreateSubmission("A8")

	rows, err := env.Service.ListByAccount(ctx, "A7")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, first, rows[0].ID)
	assert.Equal(t, second, rows[1].ID)
}

func TestReconcile_RebuildIsIdempotent(t *testing.T) {
	env := testutil.NewTestEnv(t)
	ctx := context.Background()
	id, _ := env.CreateInForce("A1")

	before, err := env.Service.GetPolicy(ctx, id)
	require.NoError(t, err)

	require.NoError(t, env.ReadModel.DeletePolicy(ctx, env.Pool, id))
	res, err := env.Reconciler.Check(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, res.Failed(), reconcile.ProjectionPresent)

	for i := 0; i < 2; i++ {
		require.NoError(t, env.Reconciler.Repair(ctx, id))
		after, err := env.Service.GetPolicy(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, before, after, "rebuild %d", i+1)
	}

	report, err := env.Reconciler.RunAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.Errors)
}

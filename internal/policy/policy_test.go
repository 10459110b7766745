package policy_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/policy"
	"github.com/agenticcore/platform/internal/policy/policytest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var meta = policytest.Meta

// --- Submission Tests ---

func TestCreateSubmission(t *testing.T) {
	id := uuid.New()
	p, err := policy.CreateSubmission(id, "account-1", "personal-auto", "personal-auto", policytest.EffectiveDate, meta)
	require.NoError(t, err)

	assert.Equal(t, id, p.AggregateID())
	assert.Equal(t, domain.AggregatePolicy, p.AggregateType())
	assert.Equal(t, 1, p.Version())
	assert.Equal(t, policy.StatusDraft, p.Status())
	assert.Equal(t, "account-1", p.AccountID())
	assert.Equal(t, domain.Zero("USD"), p.Premium())

	events := p.UncommittedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventSubmissionCreated, events[0].Type())
	assert.Equal(t, 1, events[0].Version)
	assert.Equal(t, id, events[0].AggregateID)
	assert.Equal(t, "test-correlation", events[0].Metadata.CorrelationID)
	assert.False(t, events[0].Metadata.Timestamp.IsZero())
}

func TestCreateSubmission_TwiceIsRejected(t *testing.T) {
	p := policytest.Draft(uuid.New())
	err := p.CreateSubmission("A2", "home", "home", policytest.EffectiveDate, meta)
	assert.True(t, domain.IsInvalidStateTransition(err))
	assert.Equal(t, 1, p.Version())
}

func TestRisksAndCoverages(t *testing.T) {
	p := policytest.Draft(uuid.New())

	r1, err := p.AddRisk("vehicle", json.RawMessage(`{"vin":"A"}`), meta)
	require.NoError(t, err)
	r2, err := p.AddRisk("vehicle", json.RawMessage(`{"vin":"B"}`), meta)
	require.NoError(t, err)
	assert.NotEqual(t, r1, r2)

	covID, err := p.SelectCoverage("liability", domain.NewMoney(100000, "USD"), domain.NewMoney(0, "USD"), meta)
	require.NoError(t, err)

	require.NoError(t, p.RemoveRisk(r1, meta))

	s := p.Snapshot()
	require.Len(t, s.Risks, 1)
	assert.Equal(t, r2, s.Risks[0].ID)
	require.Len(t, s.Coverages, 1)
	assert.Equal(t, "liability", s.Coverages[0].CoverageCode)
	assert.Equal(t, domain.Zero("USD"), s.Coverages[0].Premium)

	require.NoError(t, p.RemoveCoverage(covID, "liability", meta))
	assert.Empty(t, p.Snapshot().Coverages)
	assert.Equal(t, 6, p.Version())
	assert.Len(t, p.UncommittedEvents(), 6)
}

func TestRiskCommands_RejectedInTerminalStatus(t *testing.T) {
	p := policytest.Draft(uuid.New())
	require.NoError(t, p.Submit(meta))
	require.NoError(t, p.StartUnderwritingReview("uw-1", 90, meta))
	require.NoError(t, p.DeclineUnderwriting("uw-1", []string{"prior losses"}, meta))

	_, err := p.AddRisk("vehicle", nil, meta)
	var ist *domain.InvalidStateTransitionError
	require.True(t, errors.As(err, &ist))
	assert.Equal(t, "declined", ist.Current)
	assert.Equal(t, "ADD_RISK", ist.Attempted)

	err = p.CompleteRating(domain.NewMoney(10, "USD"), nil, nil, meta)
	assert.True(t, domain.IsInvalidStateTransition(err))
	assert.Equal(t, []string{"prior losses"}, p.Snapshot().DeclineReasons)
}

// --- Lifecycle Tests ---

func TestEndToEnd_SubmissionToInForce(t *testing.T) {
	p, err := policy.CreateSubmission(uuid.New(), "A1", "personal-auto", "personal-auto", domain.MustDate("2026-03-01"), meta)
	require.NoError(t, err)

	require.NoError(t, p.Submit(meta))
	require.NoError(t, p.StartUnderwritingReview("uw-1", 50, meta))
	require.NoError(t, p.ApproveUnderwriting("uw-1", nil, "standard", meta))
	assert.Equal(t, policy.StatusQuoted, p.Status())

	premium := domain.NewMoney(1500, "USD")
	require.NoError(t, p.CompleteRating(premium, json.RawMessage(`{}`), nil, meta))
	require.NoError(t, p.GenerateQuote("QTE-001", premium, domain.MustDate("2026-04-01"), meta))
	require.NoError(t, p.AcceptAndBind(meta))
	assert.Equal(t, policy.StatusBinding, p.Status())
	require.NoError(t, p.ReceivePayment(meta))
	assert.Equal(t, policy.StatusBound, p.Status())
	require.NoError(t, p.BindPolicy("POL-001", domain.MustDate("2026-03-01"), premium, meta))
	require.NoError(t, p.IssuePolicy([]string{"dec.pdf"}, domain.MustDate("2026-02-28"), meta))
	require.NoError(t, p.ActivatePolicy(domain.MustDate("2026-03-01"), meta))

	assert.Equal(t, policy.StatusInForce, p.Status())
	assert.Equal(t, domain.Money{Cents: 150000, Currency: "USD"}, p.Premium())
	assert.Equal(t, "POL-001", p.PolicyNumber())

	s := p.Snapshot()
	assert.Equal(t, "QTE-001", s.QuoteNumber)
	assert.Equal(t, "2027-03-01", s.ExpirationDate.String())
	assert.Equal(t, []string{"dec.pdf"}, s.Documents)
	assert.Equal(t, "uw-1", s.AssignedUnderwriter)

	events := p.UncommittedEvents()
	for i, e := range events {
		assert.Equal(t, i+1, e.Version)
	}
	assert.Equal(t, p.Version(), len(events))
}

func TestGuardedCommand_InvalidTransition(t *testing.T) {
	p := policytest.Quoted(uuid.New())
	before := p.Version()

	err := p.Submit(meta)
	var ist *domain.InvalidStateTransitionError
	require.True(t, errors.As(err, &ist))
	assert.Equal(t, "quoted", ist.Current)
	assert.Equal(t, "SUBMIT", ist.Attempted)
	assert.Equal(t, before, p.Version())
	assert.Len(t, p.UncommittedEvents(), before)
}

func TestBindPolicy_RequiresPayment(t *testing.T) {
	p := policytest.Quoted(uuid.New())
	require.NoError(t, p.AcceptAndBind(meta))

	err := p.BindPolicy("POL-001", policytest.EffectiveDate, domain.NewMoney(1500, "USD"), meta)
	var ist *domain.InvalidStateTransitionError
	require.True(t, errors.As(err, &ist))
	assert.Equal(t, "binding", ist.Current)
	assert.Equal(t, "BIND_POLICY", ist.Attempted)
}

func TestReferUnderwriting_CountsReferrals(t *testing.T) {
	p := policytest.Draft(uuid.New())
	require.NoError(t, p.Submit(meta))
	require.NoError(t, p.StartUnderwritingReview("uw-1", 70, meta))
	require.NoError(t, p.ReferUnderwriting("senior-uw", []string{"high value"}, meta))
	require.NoError(t, p.ReferUnderwriting("chief-uw", []string{"still high"}, meta))

	assert.Equal(t, policy.StatusUnderwritingReview, p.Status())
	assert.Equal(t, 2, p.Snapshot().ReferralCount)

	require.NoError(t, p.ApproveUnderwriting("chief-uw", []string{"telematics"}, "senior", meta))
	assert.Equal(t, []string{"telematics"}, p.Snapshot().UnderwritingConditions)
}

// --- Servicing Tests ---

func TestApplyEndorsement_AddsPremium(t *testing.T) {
	p := policytest.InForce(uuid.New())
	require.NoError(t, p.RequestEndorsement([]domain.FieldChange{{Field: "garaging_zip"}}, domain.MustDate("2026-06-01"), meta))
	assert.Equal(t, policy.StatusEndorsementPending, p.Status())

	require.NoError(t, p.ApplyEndorsement("END-1", domain.NewMoney(50, "USD"), meta))
	assert.Equal(t, domain.NewMoney(1550, "USD"), p.Premium())
	assert.Equal(t, policy.StatusInForce, p.Status())
	assert.Equal(t, 1, p.Snapshot().EndorsementCount)
}

func TestApplyEndorsement_CurrencyMismatchLeavesStateUnchanged(t *testing.T) {
	p := policytest.InForce(uuid.New())
	require.NoError(t, p.RequestEndorsement(nil, domain.MustDate("2026-06-01"), meta))
	version := p.Version()

	err := p.ApplyEndorsement("END-1", domain.NewMoney(50, "EUR"), meta)
	var mismatch *domain.CurrencyMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "USD", mismatch.Expected)
	assert.Equal(t, "EUR", mismatch.Actual)

	assert.Equal(t, domain.NewMoney(1500, "USD"), p.Premium())
	assert.Equal(t, policy.StatusEndorsementPending, p.Status())
	assert.Equal(t, version, p.Version())
	assert.Len(t, p.UncommittedEvents(), version)
}

func TestRenewal_ReplacesPremiumAndExtendsTerm(t *testing.T) {
	p := policytest.InForce(uuid.New())
	require.NoError(t, p.RequestRenewal(domain.MustDate("2027-02-01"), nil, meta))
	assert.Equal(t, policy.StatusRenewalPending, p.Status())

	require.NoError(t, p.CompleteRenewal("POL-001-R1", domain.NewMoney(1620, "USD"), meta))
	s := p.Snapshot()
	assert.Equal(t, policy.StatusInForce, s.Status)
	assert.Equal(t, domain.NewMoney(1620, "USD"), s.Premium)
	assert.Equal(t, "2028-03-01", s.ExpirationDate.String())
	assert.Equal(t, "POL-001-R1", s.RenewalPolicyNumber)
}

func TestCancellationAndReinstatement(t *testing.T) {
	p := policytest.InForce(uuid.New())
	require.NoError(t, p.RequestCancellation("non-payment", domain.MustDate("2026-07-01"), "billing", meta))
	require.NoError(t, p.ApproveCancellation(domain.NewMoney(750, "USD"), meta))
	assert.Equal(t, policy.StatusCancelled, p.Status())
	require.NotNil(t, p.Snapshot().RefundAmount)
	assert.Equal(t, domain.NewMoney(750, "USD"), *p.Snapshot().RefundAmount)

	require.NoError(t, p.RequestReinstatement("payment received", meta))
	assert.Equal(t, policy.StatusCancelled, p.Status())
	require.NoError(t, p.ApproveReinstatement([]string{"no lapse"}, meta))
	assert.Equal(t, policy.StatusReinstated, p.Status())

	require.NoError(t, p.RequestEndorsement(nil, domain.MustDate("2026-08-01"), meta))
	assert.Equal(t, policy.StatusEndorsementPending, p.Status())
}

func TestExpire_IsTerminal(t *testing.T) {
	p := policytest.InForce(uuid.New())
	require.NoError(t, p.Expire(domain.MustDate("2027-03-01"), meta))
	assert.Equal(t, policy.StatusExpired, p.Status())

	assert.True(t, domain.IsInvalidStateTransition(p.RequestEndorsement(nil, domain.MustDate("2027-03-02"), meta)))
	_, err := p.AddRisk("vehicle", nil, meta)
	assert.True(t, domain.IsInvalidStateTransition(err))
}

// --- Replay Tests ---

func TestLoadFromHistory_MatchesLiveState(t *testing.T) {
	live := policytest.InForce(uuid.New())
	require.NoError(t, live.RequestEndorsement(nil, domain.MustDate("2026-06-01"), meta))
	require.NoError(t, live.ApplyEndorsement("END-1", domain.NewMoney(50, "USD"), meta))

	history := live.UncommittedEvents()
	replayed, err := policy.LoadFromHistory(live.AggregateID(), history)
	require.NoError(t, err)

	assert.Equal(t, live.Snapshot(), replayed.Snapshot())
	assert.Equal(t, live.Version(), replayed.Version())
	assert.Empty(t, replayed.UncommittedEvents())
}

func TestLoadFromHistory_PrefixThenRemainder(t *testing.T) {
	live := policytest.InForce(uuid.New())
	history := live.UncommittedEvents()

	full, err := policy.LoadFromHistory(live.AggregateID(), history)
	require.NoError(t, err)

	for cut := 0; cut <= len(history); cut++ {
		p, err := policy.LoadFromHistory(live.AggregateID(), history[:cut])
		require.NoError(t, err)
		for _, e := range history[cut:] {
			require.NoError(t, p.LoadFromHistory([]domain.Event{e}))
		}
		assert.Equal(t, full.Snapshot(), p.Snapshot(), "cut at %d", cut)
		assert.Equal(t, full.Version(), p.Version(), "cut at %d", cut)
	}
}

func TestLoadFromHistory_RejectsGapsAndForeignEvents(t *testing.T) {
	live := policytest.Quoted(uuid.New())
	history := live.UncommittedEvents()

	_, err := policy.LoadFromHistory(live.AggregateID(), append(history[:2:2], history[3:]...))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected version 3")

	_, err = policy.LoadFromHistory(uuid.New(), history)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs to aggregate")
}

func TestSnapshotRoundTrip(t *testing.T) {
	live := policytest.InForce(uuid.New())
	require.NoError(t, live.RequestCancellation("moving", domain.MustDate("2026-09-01"), "insured", meta))
	require.NoError(t, live.ApproveCancellation(domain.NewMoney(300, "USD"), meta))
	body, err := live.ToSnapshot()
	require.NoError(t, err)

	restored, err := policy.FromSnapshot(live.AggregateID(), live.Version(), body)
	require.NoError(t, err)
	assert.Equal(t, live.Version(), restored.Version())
	assert.Equal(t, live.Snapshot(), restored.Snapshot())

	require.NoError(t, restored.RequestReinstatement("paid", meta))
	assert.Equal(t, live.Version()+1, restored.Version())
}

func TestSnapshotPlusTail_MatchesFullReplay(t *testing.T) {
	p := policytest.Draft(uuid.New())
	_, err := p.AddRisk("vehicle", json.RawMessage("{\"vin\": \"A\",\n \"year\": 2020}"), meta)
	require.NoError(t, err)
	_, err = p.AddRisk("driver", nil, meta)
	require.NoError(t, err)
	require.Equal(t, 3, p.Version())

	body, err := p.ToSnapshot()
	require.NoError(t, err)
	require.NoError(t, p.Submit(meta))
	history := p.UncommittedEvents()

	full, err := policy.LoadFromHistory(p.AggregateID(), history)
	require.NoError(t, err)

	restored, err := policy.FromSnapshot(p.AggregateID(), 3, body)
	require.NoError(t, err)
	require.NoError(t, restored.LoadFromHistory(history[3:]))

	assert.Equal(t, full.Snapshot(), restored.Snapshot())
	risks := full.Snapshot().Risks
	require.Len(t, risks, 2)
	assert.Equal(t, json.RawMessage(`{"vin":"A","year":2020}`), risks[0].Data)
	assert.Equal(t, json.RawMessage(`null`), risks[1].Data)
}

func TestSnapshot_IsDetached(t *testing.T) {
	p := policytest.Quoted(uuid.New())
	s := p.Snapshot()
	s.Risks[0].RiskType = "boat"
	s.Coverages = nil
	assert.Equal(t, "vehicle", p.Snapshot().Risks[0].RiskType)
	assert.Len(t, p.Snapshot().Coverages, 1)
}

func TestClearUncommittedEvents(t *testing.T) {
	p := policytest.Quoted(uuid.New())
	v := p.Version()
	assert.Equal(t, 0, domain.ExpectedVersion(p))

	p.ClearUncommittedEvents()
	assert.Empty(t, p.UncommittedEvents())
	assert.Equal(t, v, p.Version())
	assert.Equal(t, v, domain.ExpectedVersion(p))

	require.NoError(t, p.AcceptAndBind(meta))
	assert.Equal(t, v, domain.ExpectedVersion(p))
}

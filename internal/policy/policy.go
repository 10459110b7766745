package policy

import (
	"encoding/json"
	"fmt"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/google/uuid"
)

// Policy is the event-sourced policy aggregate. Commands validate against the
// lifecycle, raise exactly one event and fold it into State.
type Policy struct {
	domain.Root
	state State
}

var _ domain.Aggregate = (*Policy)(nil)

// New returns an empty policy at version 0, ready for CreateSubmission or
// history replay.
func New(id uuid.UUID) *Policy {
	return &Policy{Root: domain.NewRoot(id, domain.AggregatePolicy), state: newState()}
}

// CreateSubmission starts a new policy in draft.
func CreateSubmission(id uuid.UUID, accountID, productCode, lobCode string, effectiveDate domain.Date, meta domain.CommandMetadata) (*Policy, error) {
	p := New(id)
	if err := p.CreateSubmission(accountID, productCode, lobCode, effectiveDate, meta); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadFromHistory rebuilds a policy from its persisted events.
func LoadFromHistory(id uuid.UUID, events []domain.Event) (*Policy, error) {
	p := New(id)
	if err := p.LoadFromHistory(events); err != nil {
		return nil, err
	}
	return p, nil
}

// FromSnapshot rebuilds a policy from a snapshot body at the given version.
// The caller replays the events after that version.
func FromSnapshot(id uuid.UUID, version int, body json.RawMessage) (*Policy, error) {
	p := New(id)
	s := newState()
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("decode policy snapshot %s@%d: %w", id, version, err)
	}
	p.state = s
	p.Restore(version)
	return p, nil
}

// LoadFromHistory folds events in order without legality checks.
func (p *Policy) LoadFromHistory(events []domain.Event) error {
	return p.Replay(folder{&p.state}, events)
}

// Snapshot returns a detached copy of the folded state.
func (p *Policy) Snapshot() State { return p.state.clone() }

// ToSnapshot serialises the folded state for the snapshot store.
func (p *Policy) ToSnapshot() (json.RawMessage, error) {
	data, err := json.Marshal(p.state)
	if err != nil {
		return nil, fmt.Errorf("encode policy snapshot: %w", err)
	}
	return data, nil
}

func (p *Policy) Status() Status             { return p.state.Status }
func (p *Policy) Premium() domain.Money      { return p.state.Premium }
func (p *Policy) PolicyNumber() string       { return p.state.PolicyNumber }
func (p *Policy) AccountID() string          { return p.state.AccountID }
func (p *Policy) EffectiveDate() domain.Date { return p.state.EffectiveDate }

func (p *Policy) raise(payload domain.Payload, meta domain.CommandMetadata) error {
	return p.Raise(folder{&p.state}, payload, meta)
}

// transition raises payload after checking t against the lifecycle.
func (p *Policy) transition(t Transition, payload domain.Payload, meta domain.CommandMetadata) error {
	if !CanTransition(p.state.Status, t) {
		return &domain.InvalidStateTransitionError{Current: string(p.state.Status), Attempted: string(t)}
	}
	return p.raise(payload, meta)
}

// active guards commands the lifecycle table does not cover: they are legal
// in any status except the terminal ones.
func (p *Policy) active(op string) error {
	if p.Version() == 0 || IsTerminal(p.state.Status) {
		return &domain.InvalidStateTransitionError{Current: string(p.state.Status), Attempted: op}
	}
	return nil
}

// --- Submission ---

func (p *Policy) CreateSubmission(accountID, productCode, lobCode string, effectiveDate domain.Date, meta domain.CommandMetadata) error {
	if p.Version() != 0 {
		return &domain.InvalidStateTransitionError{Current: string(p.state.Status), Attempted: "CREATE_SUBMISSION"}
	}
	return p.raise(domain.SubmissionCreated{
		AccountID:     accountID,
		ProductCode:   productCode,
		LOBCode:       lobCode,
		EffectiveDate: effectiveDate,
	}, meta)
}

func (p *Policy) AddRisk(riskType string, data json.RawMessage, meta domain.CommandMetadata) (uuid.UUID, error) {
	if err := p.active("ADD_RISK"); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	if err := p.raise(domain.RiskAdded{RiskID: id, RiskType: riskType, RiskData: data}, meta); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (p *Policy) RemoveRisk(riskID uuid.UUID, meta domain.CommandMetadata) error {
	if err := p.active("REMOVE_RISK"); err != nil {
		return err
	}
	return p.raise(domain.RiskRemoved{RiskID: riskID}, meta)
}

func (p *Policy) SelectCoverage(code string, limit, deductible domain.Money, meta domain.CommandMetadata) (uuid.UUID, error) {
	if err := p.active("SELECT_COVERAGE"); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	if err := p.raise(domain.CoverageSelected{CoverageID: id, CoverageCode: code, Limit: limit, Deductible: deductible}, meta); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (p *Policy) RemoveCoverage(coverageID uuid.UUID, code string, meta domain.CommandMetadata) error {
	if err := p.active("REMOVE_COVERAGE"); err != nil {
		return err
	}
	return p.raise(domain.CoverageRemoved{CoverageID: coverageID, CoverageCode: code}, meta)
}

func (p *Policy) Submit(meta domain.CommandMetadata) error {
	return p.transition(TransitionSubmit, domain.Submitted{}, meta)
}

// --- Underwriting ---

func (p *Policy) StartUnderwritingReview(assignedTo string, riskScore float64, meta domain.CommandMetadata) error {
	return p.transition(TransitionStartUnderwriting, domain.UnderwritingReviewStarted{
		AssignedTo: assignedTo,
		RiskScore:  riskScore,
	}, meta)
}

func (p *Policy) ApproveUnderwriting(approvedBy string, conditions []string, authorityLevel string, meta domain.CommandMetadata) error {
	return p.transition(TransitionApproveUnderwriting, domain.UnderwritingApproved{
		ApprovedBy:     approvedBy,
		Conditions:     conditions,
		AuthorityLevel: authorityLevel,
	}, meta)
}

func (p *Policy) DeclineUnderwriting(declinedBy string, reasons []string, meta domain.CommandMetadata) error {
	return p.transition(TransitionDeclineUnderwriting, domain.UnderwritingDeclined{
		DeclinedBy: declinedBy,
		Reasons:    reasons,
	}, meta)
}

func (p *Policy) ReferUnderwriting(referredTo string, reasons []string, meta domain.CommandMetadata) error {
	return p.transition(TransitionReferUnderwriting, domain.UnderwritingReferred{
		ReferredTo:      referredTo,
		ReferralReasons: reasons,
	}, meta)
}

// --- Rating and quoting ---

func (p *Policy) CompleteRating(premium domain.Money, worksheet json.RawMessage, factors []domain.RatingFactor, meta domain.CommandMetadata) error {
	if err := p.active("COMPLETE_RATING"); err != nil {
		return err
	}
	return p.raise(domain.RatingCompleted{Premium: premium, Worksheet: worksheet, RatingFactors: factors}, meta)
}

func (p *Policy) GenerateQuote(quoteNumber string, premium domain.Money, expirationDate domain.Date, meta domain.CommandMetadata) error {
	if err := p.active("GENERATE_QUOTE"); err != nil {
		return err
	}
	return p.raise(domain.QuoteGenerated{QuoteNumber: quoteNumber, Premium: premium, ExpirationDate: expirationDate}, meta)
}

// --- Binding and issuance ---

func (p *Policy) AcceptAndBind(meta domain.CommandMetadata) error {
	return p.transition(TransitionCustomerAccept, domain.CustomerAccepted{}, meta)
}

func (p *Policy) ReceivePayment(meta domain.CommandMetadata) error {
	return p.transition(TransitionReceivePayment, domain.PaymentReceived{}, meta)
}

// BindPolicy records the policy number, premium and term once payment has
// moved the policy to bound. The status does not change.
func (p *Policy) BindPolicy(policyNumber string, effectiveDate domain.Date, premium domain.Money, meta domain.CommandMetadata) error {
	return p.transition(TransitionBindPolicy, domain.PolicyBound{
		PolicyNumber:  policyNumber,
		EffectiveDate: effectiveDate,
		Premium:       premium,
	}, meta)
}

func (p *Policy) IssuePolicy(documents []string, issuedDate domain.Date, meta domain.CommandMetadata) error {
	return p.transition(TransitionIssuePolicy, domain.PolicyIssued{Documents: documents, IssuedDate: issuedDate}, meta)
}

func (p *Policy) ActivatePolicy(effectiveDate domain.Date, meta domain.CommandMetadata) error {
	return p.transition(TransitionActivatePolicy, domain.PolicyInForce{EffectiveDate: effectiveDate}, meta)
}

// --- Mid-term servicing ---

func (p *Policy) RequestEndorsement(changes []domain.FieldChange, effectiveDate domain.Date, meta domain.CommandMetadata) error {
	return p.transition(TransitionRequestEndorsement, domain.EndorsementRequested{
		Changes:       changes,
		EffectiveDate: effectiveDate,
	}, meta)
}

// ApplyEndorsement adds premiumChange to the premium. A currency mismatch
// fails the command and records nothing.
func (p *Policy) ApplyEndorsement(endorsementNumber string, premiumChange domain.Money, meta domain.CommandMetadata) error {
	return p.transition(TransitionCompleteEndorsement, domain.EndorsementApplied{
		EndorsementNumber: endorsementNumber,
		PremiumChange:     premiumChange,
	}, meta)
}

func (p *Policy) RequestRenewal(renewalDate domain.Date, proposed []domain.ProposedChange, meta domain.CommandMetadata) error {
	return p.transition(TransitionRequestRenewal, domain.RenewalInitiated{
		RenewalDate:     renewalDate,
		ProposedChanges: proposed,
	}, meta)
}

func (p *Policy) CompleteRenewal(renewalPolicyNumber string, newPremium domain.Money, meta domain.CommandMetadata) error {
	return p.transition(TransitionCompleteRenewal, domain.RenewalCompleted{
		RenewalPolicyNumber: renewalPolicyNumber,
		NewPremium:          newPremium,
	}, meta)
}

func (p *Policy) RequestCancellation(reason string, effectiveDate domain.Date, requestedBy string, meta domain.CommandMetadata) error {
	return p.transition(TransitionRequestCancellation, domain.CancellationRequested{
		Reason:        reason,
		EffectiveDate: effectiveDate,
		RequestedBy:   requestedBy,
	}, meta)
}

func (p *Policy) ApproveCancellation(refundAmount domain.Money, meta domain.CommandMetadata) error {
	return p.transition(TransitionApproveCancellation, domain.CancellationApplied{RefundAmount: refundAmount}, meta)
}

func (p *Policy) RequestReinstatement(reason string, meta domain.CommandMetadata) error {
	return p.transition(TransitionRequestReinstatement, domain.ReinstatementRequested{Reason: reason}, meta)
}

func (p *Policy) ApproveReinstatement(conditions []string, meta domain.CommandMetadata) error {
	return p.transition(TransitionApproveReinstatement, domain.ReinstatementApplied{Conditions: conditions}, meta)
}

func (p *Policy) Expire(expirationDate domain.Date, meta domain.CommandMetadata) error {
	return p.transition(TransitionExpire, domain.PolicyExpired{ExpirationDate: expirationDate}, meta)
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/governance"
	"github.com/agenticcore/platform/internal/policy"
	"github.com/agenticcore/platform/internal/rating"
	"github.com/google/uuid"
)

// SubmissionInput opens a new submission.
type SubmissionInput struct {
	AccountID     string
	ProductCode   string
	LOBCode       string
	EffectiveDate domain.Date
}

func (in SubmissionInput) validate() error {
	for _, f := range []struct{ name, value string }{
		{"accountId", in.AccountID},
		{"productCode", in.ProductCode},
		{"lobCode", in.LOBCode},
	} {
		if err := domain.ValidateRequired(f.name, f.value); err != nil {
			return domain.ErrValidation(err.Error())
		}
	}
	if in.EffectiveDate.IsZero() {
		return domain.ErrValidation("effectiveDate is required")
	}
	return nil
}

// CreateSubmission opens a draft policy and returns its id.
func (s *PolicyService) CreateSubmission(ctx context.Context, in SubmissionInput, meta domain.CommandMetadata) (id uuid.UUID, err error) {
	start := time.Now()
	defer func() { s.observe("create_submission", start, err) }()

	if err := in.validate(); err != nil {
		return uuid.Nil, err
	}
	p := policy.New(s.newID())
	p.SetClock(s.clock)
	if err := p.CreateSubmission(in.AccountID, in.ProductCode, in.LOBCode, in.EffectiveDate, meta); err != nil {
		return uuid.Nil, err
	}
	if err := s.coordinator.Commit(ctx, p); err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("submission created", "aggregate_id", p.AggregateID(), "account_id", in.AccountID)
	return p.AggregateID(), nil
}

// AddRisk attaches a risk and returns its id.
func (s *PolicyService) AddRisk(ctx context.Context, id uuid.UUID, riskType string, data json.RawMessage, meta domain.CommandMetadata) (uuid.UUID, error) {
	if err := domain.ValidateRequired("riskType", riskType); err != nil {
		return uuid.Nil, domain.ErrValidation(err.Error())
	}
	var riskID uuid.UUID
	_, err := s.execute(ctx, "add_risk", id, meta, nil, func(p *policy.Policy) error {
		var err error
		riskID, err = p.AddRisk(riskType, data, meta)
		return err
	})
	return riskID, err
}

func (s *PolicyService) RemoveRisk(ctx context.Context, id, riskID uuid.UUID, meta domain.CommandMetadata) error {
	_, err := s.execute(ctx, "remove_risk", id, meta, nil, func(p *policy.Policy) error {
		return p.RemoveRisk(riskID, meta)
	})
	return err
}

// SelectCoverage attaches a coverage and returns its id.
func (s *PolicyService) SelectCoverage(ctx context.Context, id uuid.UUID, code string, limit, deductible domain.Money, meta domain.CommandMetadata) (uuid.UUID, error) {
	if err := domain.ValidateRequired("coverageCode", code); err != nil {
		return uuid.Nil, domain.ErrValidation(err.Error())
	}
	for _, m := range []struct {
		name  string
		money domain.Money
	}{{"limit", limit}, {"deductible", deductible}} {
		if err := domain.ValidateNonNegative(m.name, m.money); err != nil {
			return uuid.Nil, domain.ErrValidation(err.Error())
		}
	}
	var coverageID uuid.UUID
	_, err := s.execute(ctx, "select_coverage", id, meta, nil, func(p *policy.Policy) error {
		var err error
		coverageID, err = p.SelectCoverage(code, limit, deductible, meta)
		return err
	})
	return coverageID, err
}

func (s *PolicyService) RemoveCoverage(ctx context.Context, id, coverageID uuid.UUID, code string, meta domain.CommandMetadata) error {
	_, err := s.execute(ctx, "remove_coverage", id, meta, nil, func(p *policy.Policy) error {
		return p.RemoveCoverage(coverageID, code, meta)
	})
	return err
}

// Submit sends a draft to underwriting.
func (s *PolicyService) Submit(ctx context.Context, id uuid.UUID, meta domain.CommandMetadata) (policy.Status, error) {
	return s.status(s.execute(ctx, "submit", id, meta, nil, func(p *policy.Policy) error {
		return p.Submit(meta)
	}))
}

// --- Underwriting ---

func (s *PolicyService) StartUnderwriting(ctx context.Context, id uuid.UUID, assignedTo string, riskScore float64, meta domain.CommandMetadata) (policy.Status, error) {
	check := func(*policy.Policy) governance.Request {
		req := request(governance.ActionStartReview, id)
		req.RiskScore = &riskScore
		return req
	}
	return s.status(s.execute(ctx, "start_underwriting", id, meta, check, func(p *policy.Policy) error {
		return p.StartUnderwritingReview(assignedTo, riskScore, meta)
	}))
}

func (s *PolicyService) ApproveUnderwriting(ctx context.Context, id uuid.UUID, approvedBy string, conditions []string, authorityLevel string, meta domain.CommandMetadata) (policy.Status, error) {
	check := func(p *policy.Policy) governance.Request {
		req := request(governance.ActionApproveSubmission, id)
		score := p.Snapshot().RiskScore
		req.RiskScore = &score
		return req
	}
	if authorityLevel == "" {
		authorityLevel = "standard"
	}
	return s.status(s.execute(ctx, "approve_underwriting", id, meta, check, func(p *policy.Policy) error {
		return p.ApproveUnderwriting(approvedBy, conditions, authorityLevel, meta)
	}))
}

func (s *PolicyService) DeclineUnderwriting(ctx context.Context, id uuid.UUID, declinedBy string, reasons []string, meta domain.CommandMetadata) (policy.Status, error) {
	check := func(*policy.Policy) governance.Request {
		return request(governance.ActionDeclineSubmission, id)
	}
	return s.status(s.execute(ctx, "decline_underwriting", id, meta, check, func(p *policy.Policy) error {
		return p.DeclineUnderwriting(declinedBy, reasons, meta)
	}))
}

func (s *PolicyService) ReferUnderwriting(ctx context.Context, id uuid.UUID, referredTo string, reasons []string, meta domain.CommandMetadata) (policy.Status, error) {
	check := func(*policy.Policy) governance.Request {
		return request(governance.ActionReferSubmission, id)
	}
	return s.status(s.execute(ctx, "refer_underwriting", id, meta, check, func(p *policy.Policy) error {
		return p.ReferUnderwriting(referredTo, reasons, meta)
	}))
}

// --- Rating and quoting ---

// RatePolicy prices the policy through the rating pipeline and records the
// result. The pipeline runs once; only the commit is retried on conflict.
func (s *PolicyService) RatePolicy(ctx context.Context, id uuid.UUID, stateCode string, tables rating.RateTables, meta domain.CommandMetadata) (*rating.Worksheet, error) {
	start := time.Now()
	p, err := s.Load(ctx, id)
	if err != nil {
		s.observe("rate_policy", start, err)
		return nil, err
	}
	state := p.Snapshot()
	in := ratingInput(id, state, stateCode)

	var ws *rating.Worksheet
	err = s.breaker.Execute(ctx, ratingCircuit, func(ctx context.Context) error {
		var err error
		ws, err = s.rating.Execute(ctx, in, tables.ForLOB(state.LOBCode, stateCode))
		if err == nil && ws == nil {
			err = fmt.Errorf("rating pipeline returned no worksheet")
		}
		return err
	})
	if err != nil {
		s.observe("rate_policy", start, err)
		return nil, fmt.Errorf("rate policy %s: %w", id, err)
	}
	if err := ws.Validate(); err != nil {
		err = domain.ErrValidation(fmt.Sprintf("rating worksheet: %v", err))
		s.observe("rate_policy", start, err)
		return nil, err
	}
	body, err := json.Marshal(ws)
	if err != nil {
		return nil, fmt.Errorf("encode worksheet: %w", err)
	}

	_, err = s.execute(ctx, "rate_policy", id, meta, nil, func(p *policy.Policy) error {
		return p.CompleteRating(ws.FinalPremium, body, ws.Factors, meta)
	})
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func ratingInput(id uuid.UUID, state policy.State, stateCode string) rating.Input {
	in := rating.Input{
		SubmissionID:  id.String(),
		ProductCode:   state.ProductCode,
		LOBCode:       state.LOBCode,
		StateCode:     stateCode,
		EffectiveDate: state.EffectiveDate,
	}
	for _, r := range state.Risks {
		in.Risks = append(in.Risks, rating.RiskInput{RiskType: r.RiskType, Data: r.Data})
	}
	for _, c := range state.Coverages {
		in.Coverages = append(in.Coverages, rating.CoverageInput{
			CoverageCode: c.CoverageCode,
			Limit:        c.Limit,
			Deductible:   c.Deductible,
		})
	}
	return in
}

// GenerateQuote issues a quote at the rated premium. An empty quoteNumber is
// generated.
func (s *PolicyService) GenerateQuote(ctx context.Context, id uuid.UUID, quoteNumber string, expirationDate domain.Date, meta domain.CommandMetadata) (string, error) {
	if quoteNumber == "" {
		quoteNumber = s.newNumber("QTE")
	}
	if err := domain.ValidateDocumentNumber("quoteNumber", quoteNumber); err != nil {
		return "", domain.ErrValidation(err.Error())
	}
	check := func(p *policy.Policy) governance.Request {
		req := request(governance.ActionCalculateQuote, id)
		req.Amount = amountOf(p.Premium())
		return req
	}
	_, err := s.execute(ctx, "generate_quote", id, meta, check, func(p *policy.Policy) error {
		return p.GenerateQuote(quoteNumber, p.Premium(), expirationDate, meta)
	})
	if err != nil {
		return "", err
	}
	return quoteNumber, nil
}

// --- Binding and issuance ---

// Bind accepts the quote, records payment and binds the policy in one
// commit. It returns the new policy number.
func (s *PolicyService) Bind(ctx context.Context, id uuid.UUID, meta domain.CommandMetadata) (string, error) {
	number := s.newNumber("POL")
	check := func(p *policy.Policy) governance.Request {
		req := request(governance.ActionBindPolicy, id)
		req.Amount = amountOf(p.Premium())
		return req
	}
	_, err := s.execute(ctx, "bind_policy", id, meta, check, func(p *policy.Policy) error {
		if err := p.AcceptAndBind(meta); err != nil {
			return err
		}
		if err := p.ReceivePayment(meta); err != nil {
			return err
		}
		return p.BindPolicy(number, p.EffectiveDate(), p.Premium(), meta)
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("policy bound", "aggregate_id", id, "policy_number", number)
	return number, nil
}

// Issue records the issued documents, dated today.
func (s *PolicyService) Issue(ctx context.Context, id uuid.UUID, documents []string, meta domain.CommandMetadata) (policy.Status, error) {
	if len(documents) == 0 {
		documents = []string{"policy-dec-page.pdf"}
	}
	issued := domain.DateOf(s.clock())
	return s.status(s.execute(ctx, "issue_policy", id, meta, nil, func(p *policy.Policy) error {
		return p.IssuePolicy(documents, issued, meta)
	}))
}

// Activate puts an issued policy in force from its effective date.
func (s *PolicyService) Activate(ctx context.Context, id uuid.UUID, meta domain.CommandMetadata) (policy.Status, error) {
	return s.status(s.execute(ctx, "activate_policy", id, meta, nil, func(p *policy.Policy) error {
		return p.ActivatePolicy(p.EffectiveDate(), meta)
	}))
}

// --- Servicing ---

func (s *PolicyService) RequestEndorsement(ctx context.Context, id uuid.UUID, changes []domain.FieldChange, effectiveDate domain.Date, meta domain.CommandMetadata) (policy.Status, error) {
	check := func(*policy.Policy) governance.Request {
		return request(governance.ActionProcessEndorsement, id)
	}
	return s.status(s.execute(ctx, "request_endorsement", id, meta, check, func(p *policy.Policy) error {
		return p.RequestEndorsement(changes, effectiveDate, meta)
	}))
}

func (s *PolicyService) ApplyEndorsement(ctx context.Context, id uuid.UUID, endorsementNumber string, premiumChange domain.Money, meta domain.CommandMetadata) (policy.Status, error) {
	if endorsementNumber == "" {
		endorsementNumber = s.newNumber("END")
	}
	check := func(*policy.Policy) governance.Request {
		req := request(governance.ActionProcessEndorsement, id)
		req.Amount = amountOf(premiumChange)
		return req
	}
	return s.status(s.execute(ctx, "apply_endorsement", id, meta, check, func(p *policy.Policy) error {
		return p.ApplyEndorsement(endorsementNumber, premiumChange, meta)
	}))
}

func (s *PolicyService) RequestRenewal(ctx context.Context, id uuid.UUID, renewalDate domain.Date, proposed []domain.ProposedChange, meta domain.CommandMetadata) (policy.Status, error) {
	check := func(*policy.Policy) governance.Request {
		return request(governance.ActionProcessRenewal, id)
	}
	return s.status(s.execute(ctx, "request_renewal", id, meta, check, func(p *policy.Policy) error {
		return p.RequestRenewal(renewalDate, proposed, meta)
	}))
}

// CompleteRenewal renews the policy under a new number at newPremium and
// returns that number.
func (s *PolicyService) CompleteRenewal(ctx context.Context, id uuid.UUID, newPremium domain.Money, meta domain.CommandMetadata) (string, error) {
	number := s.newNumber("POL")
	check := func(*policy.Policy) governance.Request {
		req := request(governance.ActionProcessRenewal, id)
		req.Amount = amountOf(newPremium)
		return req
	}
	_, err := s.execute(ctx, "complete_renewal", id, meta, check, func(p *policy.Policy) error {
		return p.CompleteRenewal(number, newPremium, meta)
	})
	if err != nil {
		return "", err
	}
	return number, nil
}

func (s *PolicyService) RequestCancellation(ctx context.Context, id uuid.UUID, reason string, effectiveDate domain.Date, requestedBy string, meta domain.CommandMetadata) (policy.Status, error) {
	check := func(*policy.Policy) governance.Request {
		return request(governance.ActionProcessCancellation, id)
	}
	return s.status(s.execute(ctx, "request_cancellation", id, meta, check, func(p *policy.Policy) error {
		return p.RequestCancellation(reason, effectiveDate, requestedBy, meta)
	}))
}

func (s *PolicyService) ApproveCancellation(ctx context.Context, id uuid.UUID, refund domain.Money, meta domain.CommandMetadata) (policy.Status, error) {
	check := func(*policy.Policy) governance.Request {
		req := request(governance.ActionProcessCancellation, id)
		req.Amount = amountOf(refund)
		return req
	}
	return s.status(s.execute(ctx, "approve_cancellation", id, meta, check, func(p *policy.Policy) error {
		return p.ApproveCancellation(refund, meta)
	}))
}

func (s *PolicyService) RequestReinstatement(ctx context.Context, id uuid.UUID, reason string, meta domain.CommandMetadata) (policy.Status, error) {
	check := func(*policy.Policy) governance.Request {
		return request(governance.ActionProcessReinstatement, id)
	}
	return s.status(s.execute(ctx, "request_reinstatement", id, meta, check, func(p *policy.Policy) error {
		return p.RequestReinstatement(reason, meta)
	}))
}

func (s *PolicyService) ApproveReinstatement(ctx context.Context, id uuid.UUID, conditions []string, meta domain.CommandMetadata) (policy.Status, error) {
	check := func(*policy.Policy) governance.Request {
		return request(governance.ActionProcessReinstatement, id)
	}
	return s.status(s.execute(ctx, "approve_reinstatement", id, meta, check, func(p *policy.Policy) error {
		return p.ApproveReinstatement(conditions, meta)
	}))
}

// Expire ends an in-force policy at its term end.
func (s *PolicyService) Expire(ctx context.Context, id uuid.UUID, expirationDate domain.Date, meta domain.CommandMetadata) (policy.Status, error) {
	return s.status(s.execute(ctx, "expire", id, meta, nil, func(p *policy.Policy) error {
		return p.Expire(expirationDate, meta)
	}))
}

func (s *PolicyService) status(p *policy.Policy, err error) (policy.Status, error) {
	if err != nil {
		return "", err
	}
	return p.Status(), nil
}

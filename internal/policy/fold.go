package policy

import (
	"github.com/agenticcore/platform/internal/domain"
)

// folder applies events to a State. Every method either mutates the state
// completely or returns an error before touching it.
type folder struct {
	s *State
}

var _ domain.Visitor = folder{}

func (f folder) advance(e domain.Event) {
	f.s.Status = StatusAfter(f.s.Status, e.Type())
}

func (f folder) VisitSubmissionCreated(_ domain.Event, p domain.SubmissionCreated) error {
	f.s.AccountID = p.AccountID
	f.s.ProductCode = p.ProductCode
	f.s.LOBCode = p.LOBCode
	f.s.EffectiveDate = p.EffectiveDate
	f.s.Status = InitialStatus
	return nil
}

func (f folder) VisitRiskAdded(_ domain.Event, p domain.RiskAdded) error {
	f.s.Risks = append(f.s.Risks, Risk{ID: p.RiskID, RiskType: p.RiskType, Data: compactJSON(p.RiskData)})
	return nil
}

func (f folder) VisitRiskRemoved(_ domain.Event, p domain.RiskRemoved) error {
	var kept []Risk
	for _, r := range f.s.Risks {
		if r.ID != p.RiskID {
			kept = append(kept, r)
		}
	}
	f.s.Risks = kept
	return nil
}

func (f folder) VisitCoverageSelected(_ domain.Event, p domain.CoverageSelected) error {
	f.s.Coverages = append(f.s.Coverages, Coverage{
		ID:           p.CoverageID,
		CoverageCode: p.CoverageCode,
		Limit:        p.Limit,
		Deductible:   p.Deductible,
		Premium:      domain.Zero(p.Limit.Currency),
	})
	return nil
}

func (f folder) VisitCoverageRemoved(_ domain.Event, p domain.CoverageRemoved) error {
	var kept []Coverage
	for _, c := range f.s.Coverages {
		if c.ID != p.CoverageID {
			kept = append(kept, c)
		}
	}
	f.s.Coverages = kept
	return nil
}

func (f folder) VisitSubmitted(e domain.Event, _ domain.Submitted) error {
	f.advance(e)
	return nil
}

func (f folder) VisitUnderwritingReviewStarted(e domain.Event, p domain.UnderwritingReviewStarted) error {
	f.s.AssignedUnderwriter = p.AssignedTo
	f.s.RiskScore = p.RiskScore
	f.advance(e)
	return nil
}

func (f folder) VisitUnderwritingApproved(e domain.Event, p domain.UnderwritingApproved) error {
	f.s.UnderwritingConditions = cloneStrings(p.Conditions)
	f.advance(e)
	return nil
}

func (f folder) VisitUnderwritingDeclined(e domain.Event, p domain.UnderwritingDeclined) error {
	f.s.DeclineReasons = cloneStrings(p.Reasons)
	f.advance(e)
	return nil
}

func (f folder) VisitUnderwritingReferred(e domain.Event, _ domain.UnderwritingReferred) error {
	f.s.ReferralCount++
	f.advance(e)
	return nil
}

func (f folder) VisitRatingCompleted(_ domain.Event, p domain.RatingCompleted) error {
	f.s.Premium = p.Premium
	return nil
}

func (f folder) VisitQuoteGenerated(_ domain.Event, p domain.QuoteGenerated) error {
	f.s.QuoteNumber = p.QuoteNumber
	f.s.QuoteExpirationDate = p.ExpirationDate
	return nil
}

func (f folder) VisitCustomerAccepted(e domain.Event, _ domain.CustomerAccepted) error {
	f.advance(e)
	return nil
}

func (f folder) VisitPaymentReceived(e domain.Event, _ domain.PaymentReceived) error {
	f.advance(e)
	return nil
}

func (f folder) VisitPolicyBound(e domain.Event, p domain.PolicyBound) error {
	f.s.PolicyNumber = p.PolicyNumber
	f.s.Premium = p.Premium
	if !p.EffectiveDate.IsZero() {
		f.s.EffectiveDate = p.EffectiveDate
	}
	f.s.ExpirationDate = f.s.EffectiveDate.AddYears(1)
	f.advance(e)
	return nil
}

func (f folder) VisitPolicyIssued(e domain.Event, p domain.PolicyIssued) error {
	f.s.Documents = cloneStrings(p.Documents)
	f.advance(e)
	return nil
}

func (f folder) VisitPolicyInForce(e domain.Event, _ domain.PolicyInForce) error {
	f.advance(e)
	return nil
}

func (f folder) VisitEndorsementRequested(e domain.Event, _ domain.EndorsementRequested) error {
	f.advance(e)
	return nil
}

func (f folder) VisitEndorsementApplied(e domain.Event, p domain.EndorsementApplied) error {
	premium, err := f.s.Premium.Add(p.PremiumChange)
	if err != nil {
		return err
	}
	f.s.Premium = premium
	f.s.EndorsementCount++
	f.advance(e)
	return nil
}

func (f folder) VisitRenewalInitiated(e domain.Event, _ domain.RenewalInitiated) error {
	f.advance(e)
	return nil
}

func (f folder) VisitRenewalCompleted(e domain.Event, p domain.RenewalCompleted) error {
	f.s.RenewalPolicyNumber = p.RenewalPolicyNumber
	f.s.Premium = p.NewPremium
	if !f.s.ExpirationDate.IsZero() {
		f.s.ExpirationDate = f.s.ExpirationDate.AddYears(1)
	}
	f.advance(e)
	return nil
}

func (f folder) VisitCancellationRequested(e domain.Event, p domain.CancellationRequested) error {
	f.s.CancellationReason = p.Reason
	f.advance(e)
	return nil
}

func (f folder) VisitCancellationApplied(e domain.Event, p domain.CancellationApplied) error {
	refund := p.RefundAmount
	f.s.RefundAmount = &refund
	f.advance(e)
	return nil
}

func (f folder) VisitReinstatementRequested(e domain.Event, _ domain.ReinstatementRequested) error {
	f.advance(e)
	return nil
}

func (f folder) VisitReinstatementApplied(e domain.Event, p domain.ReinstatementApplied) error {
	f.s.ReinstatementConditions = cloneStrings(p.Conditions)
	f.s.CancellationReason = ""
	f.advance(e)
	return nil
}

func (f folder) VisitPolicyExpired(e domain.Event, p domain.PolicyExpired) error {
	if !p.ExpirationDate.IsZero() {
		f.s.ExpirationDate = p.ExpirationDate
	}
	f.advance(e)
	return nil
}

// Package projection keeps the policy read model in step with the event log.
package projection

import (
	"context"
	"fmt"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/policy"
	"github.com/agenticcore/platform/internal/repository"
	"github.com/google/uuid"
)

// Projection applies policy events to a PolicyReadModel. It runs on the
// caller's DBTX so the coordinator can keep it in the append transaction.
type Projection struct {
	rm repository.PolicyReadModel
}

// New creates a projection over rm.
func New(rm repository.PolicyReadModel) *Projection {
	return &Projection{rm: rm}
}

// ReadModel exposes the underlying read model for queries.
func (p *Projection) ReadModel() repository.PolicyReadModel {
	return p.rm
}

// HandleEvent applies one event. Events of other aggregate types and events
// without a payload are ignored.
func (p *Projection) HandleEvent(ctx context.Context, db repository.DBTX, e domain.Event) error {
	if e.AggregateType != domain.AggregatePolicy || e.Payload == nil {
		return nil
	}
	h := &handler{ctx: ctx, db: db, rm: p.rm}
	if err := domain.Visit(h, e); err != nil {
		return fmt.Errorf("project %s v%d of %s: %w", e.Type(), e.Version, e.AggregateID, err)
	}
	return nil
}

// HandleEvents applies events in order and stops at the first failure.
func (p *Projection) HandleEvents(ctx context.Context, db repository.DBTX, events []domain.Event) error {
	for _, e := range events {
		if err := p.HandleEvent(ctx, db, e); err != nil {
			return err
		}
	}
	return nil
}

// RebuildAggregate drops the aggregate's rows and replays history. Running
// it twice on the same history yields the same rows.
func (p *Projection) RebuildAggregate(ctx context.Context, db repository.DBTX, aggregateID uuid.UUID, history []domain.Event) error {
	if err := p.rm.DeletePolicy(ctx, db, aggregateID); err != nil {
		return fmt.Errorf("rebuild %s: %w", aggregateID, err)
	}
	for _, e := range history {
		if e.AggregateID != aggregateID {
			return fmt.Errorf("rebuild %s: event %s belongs to aggregate %s", aggregateID, e.ID, e.AggregateID)
		}
	}
	return p.HandleEvents(ctx, db, history)
}

// handler is the per-call visitor. Each case writes the row changes for one
// event type and always advances the projected version.
type handler struct {
	ctx context.Context
	db  repository.DBTX
	rm  repository.PolicyReadModel
}

var _ domain.Visitor = (*handler)(nil)

// patch returns a PolicyPatch stamped with the event's version and time,
// carrying the status change the event records, if any.
func patch(e domain.Event) domain.PolicyPatch {
	pp := domain.PolicyPatch{Version: e.Version, UpdatedAt: e.Metadata.Timestamp}
	if s, ok := policy.TargetStatus(e.Type()); ok {
		status := string(s)
		pp.Status = &status
	}
	return pp
}

func (h *handler) update(e domain.Event, pp domain.PolicyPatch) error {
	return h.rm.UpdatePolicy(h.ctx, h.db, e.AggregateID, pp)
}

func (h *handler) advance(e domain.Event) error {
	return h.update(e, patch(e))
}

func (h *handler) VisitSubmissionCreated(e domain.Event, p domain.SubmissionCreated) error {
	return h.rm.InsertPolicy(h.ctx, h.db, domain.PolicyView{
		ID:            e.AggregateID,
		AccountID:     p.AccountID,
		ProductCode:   p.ProductCode,
		LOBCode:       p.LOBCode,
		Status:        string(policy.InitialStatus),
		EffectiveDate: p.EffectiveDate,
		Premium:       domain.Zero(domain.DefaultCurrency),
		Version:       e.Version,
		CreatedAt:     e.Metadata.Timestamp,
		UpdatedAt:     e.Metadata.Timestamp,
	})
}

func (h *handler) VisitRiskAdded(e domain.Event, p domain.RiskAdded) error {
	err := h.rm.InsertRisk(h.ctx, h.db, domain.RiskView{
		ID:       p.RiskID,
		PolicyID: e.AggregateID,
		RiskType: p.RiskType,
		Data:     p.RiskData,
		Position: e.Version,
	})
	if err != nil {
		return err
	}
	return h.advance(e)
}

func (h *handler) VisitRiskRemoved(e domain.Event, p domain.RiskRemoved) error {
	if err := h.rm.DeleteRisk(h.ctx, h.db, e.AggregateID, p.RiskID); err != nil {
		return err
	}
	return h.advance(e)
}

func (h *handler) VisitCoverageSelected(e domain.Event, p domain.CoverageSelected) error {
	err := h.rm.InsertCoverage(h.ctx, h.db, domain.CoverageView{
		ID:           p.CoverageID,
		PolicyID:     e.AggregateID,
		CoverageCode: p.CoverageCode,
		Limit:        p.Limit,
		Deductible:   p.Deductible,
		Premium:      domain.Zero(p.Limit.Currency),
		Position:     e.Version,
	})
	if err != nil {
		return err
	}
	return h.advance(e)
}

func (h *handler) VisitCoverageRemoved(e domain.Event, p domain.CoverageRemoved) error {
	if err := h.rm.DeleteCoverage(h.ctx, h.db, e.AggregateID, p.CoverageID); err != nil {
		return err
	}
	return h.advance(e)
}

func (h *handler) VisitSubmitted(e domain.Event, _ domain.Submitted) error {
	return h.advance(e)
}

func (h *handler) VisitUnderwritingReviewStarted(e domain.Event, _ domain.UnderwritingReviewStarted) error {
	return h.advance(e)
}

func (h *handler) VisitUnderwritingApproved(e domain.Event, _ domain.UnderwritingApproved) error {
	return h.advance(e)
}

func (h *handler) VisitUnderwritingDeclined(e domain.Event, _ domain.UnderwritingDeclined) error {
	return h.advance(e)
}

func (h *handler) VisitUnderwritingReferred(e domain.Event, _ domain.UnderwritingReferred) error {
	return h.advance(e)
}

func (h *handler) VisitRatingCompleted(e domain.Event, p domain.RatingCompleted) error {
	pp := patch(e)
	premium := p.Premium
	pp.Premium = &premium
	return h.update(e, pp)
}

func (h *handler) VisitQuoteGenerated(e domain.Event, p domain.QuoteGenerated) error {
	pp := patch(e)
	quote := p.QuoteNumber
	pp.QuoteNumber = &quote
	return h.update(e, pp)
}

func (h *handler) VisitCustomerAccepted(e domain.Event, _ domain.CustomerAccepted) error {
	return h.advance(e)
}

func (h *handler) VisitPaymentReceived(e domain.Event, _ domain.PaymentReceived) error {
	return h.advance(e)
}

func (h *handler) VisitPolicyBound(e domain.Event, p domain.PolicyBound) error {
	pp := patch(e)
	number := p.PolicyNumber
	premium := p.Premium
	pp.PolicyNumber = &number
	pp.Premium = &premium

	effective := p.EffectiveDate
	if effective.IsZero() {
		current, err := h.current(e)
		if err != nil {
			return err
		}
		effective = current.EffectiveDate
	} else {
		pp.EffectiveDate = &effective
	}
	if !effective.IsZero() {
		expires := effective.AddYears(1)
		pp.ExpirationDate = &expires
	}
	return h.update(e, pp)
}

func (h *handler) VisitPolicyIssued(e domain.Event, _ domain.PolicyIssued) error {
	return h.advance(e)
}

func (h *handler) VisitPolicyInForce(e domain.Event, _ domain.PolicyInForce) error {
	return h.advance(e)
}

func (h *handler) VisitEndorsementRequested(e domain.Event, _ domain.EndorsementRequested) error {
	return h.advance(e)
}

func (h *handler) VisitEndorsementApplied(e domain.Event, p domain.EndorsementApplied) error {
	pp := patch(e)
	delta := p.PremiumChange
	pp.PremiumDelta = &delta
	return h.update(e, pp)
}

func (h *handler) VisitRenewalInitiated(e domain.Event, _ domain.RenewalInitiated) error {
	return h.advance(e)
}

func (h *handler) VisitRenewalCompleted(e domain.Event, p domain.RenewalCompleted) error {
	current, err := h.current(e)
	if err != nil {
		return err
	}
	pp := patch(e)
	premium := p.NewPremium
	pp.Premium = &premium
	if !current.ExpirationDate.IsZero() {
		expires := current.ExpirationDate.AddYears(1)
		pp.ExpirationDate = &expires
	}
	return h.update(e, pp)
}

func (h *handler) VisitCancellationRequested(e domain.Event, _ domain.CancellationRequested) error {
	return h.advance(e)
}

func (h *handler) VisitCancellationApplied(e domain.Event, _ domain.CancellationApplied) error {
	return h.advance(e)
}

func (h *handler) VisitReinstatementRequested(e domain.Event, _ domain.ReinstatementRequested) error {
	return h.advance(e)
}

func (h *handler) VisitReinstatementApplied(e domain.Event, _ domain.ReinstatementApplied) error {
	return h.advance(e)
}

func (h *handler) VisitPolicyExpired(e domain.Event, p domain.PolicyExpired) error {
	pp := patch(e)
	if !p.ExpirationDate.IsZero() {
		expires := p.ExpirationDate
		pp.ExpirationDate = &expires
	}
	return h.update(e, pp)
}

func (h *handler) current(e domain.Event) (*domain.PolicyView, error) {
	row, err := h.rm.FindByID(h.ctx, h.db, e.AggregateID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrNotFound("policy", e.AggregateID.String())
	}
	return row, nil
}

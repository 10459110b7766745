package domain

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// EventType is the discriminator stored with every event.
type EventType string

const (
	EventSubmissionCreated         EventType = "SubmissionCreated"
	EventRiskAdded                 EventType = "RiskAdded"
	EventRiskRemoved               EventType = "RiskRemoved"
	EventCoverageSelected          EventType = "CoverageSelected"
	EventCoverageRemoved           EventType = "CoverageRemoved"
	EventSubmitted                 EventType = "Submitted"
	EventUnderwritingReviewStarted EventType = "UnderwritingReviewStarted"
	EventUnderwritingApproved      EventType = "UnderwritingApproved"
	EventUnderwritingDeclined      EventType = "UnderwritingDeclined"
	EventUnderwritingReferred      EventType = "UnderwritingReferred"
	EventRatingCompleted           EventType = "RatingCompleted"
	EventQuoteGenerated            EventType = "QuoteGenerated"
	EventCustomerAccepted          EventType = "CustomerAccepted"
	EventPaymentReceived           EventType = "PaymentReceived"
	EventPolicyBound               EventType = "PolicyBound"
	EventPolicyIssued              EventType = "PolicyIssued"
	EventPolicyInForce             EventType = "PolicyInForce"
	EventEndorsementRequested      EventType = "EndorsementRequested"
	EventEndorsementApplied        EventType = "EndorsementApplied"
	EventRenewalInitiated          EventType = "RenewalInitiated"
	EventRenewalCompleted          EventType = "RenewalCompleted"
	EventCancellationRequested     EventType = "CancellationRequested"
	EventCancellationApplied       EventType = "CancellationApplied"
	EventReinstatementRequested    EventType = "ReinstatementRequested"
	EventReinstatementApplied      EventType = "ReinstatementApplied"
	EventPolicyExpired             EventType = "PolicyExpired"
)

// Payload is the closed set of event bodies. Only types in this package can
// implement it, and each one dispatches to exactly one Visitor method.
type Payload interface {
	EventType() EventType
	accept(v Visitor, e Event) error
}

// Visitor has one method per payload variant. Implementations that fold or
// project events get a compile error when a variant is added.
type Visitor interface {
	VisitSubmissionCreated(e Event, p SubmissionCreated) error
	VisitRiskAdded(e Event, p RiskAdded) error
	VisitRiskRemoved(e Event, p RiskRemoved) error
	VisitCoverageSelected(e Event, p CoverageSelected) error
	VisitCoverageRemoved(e Event, p CoverageRemoved) error
	VisitSubmitted(e Event, p Submitted) error
	VisitUnderwritingReviewStarted(e Event, p UnderwritingReviewStarted) error
	VisitUnderwritingApproved(e Event, p UnderwritingApproved) error
	VisitUnderwritingDeclined(e Event, p UnderwritingDeclined) error
	VisitUnderwritingReferred(e Event, p UnderwritingReferred) error
	VisitRatingCompleted(e Event, p RatingCompleted) error
	VisitQuoteGenerated(e Event, p QuoteGenerated) error
	VisitCustomerAccepted(e Event, p CustomerAccepted) error
	VisitPaymentReceived(e Event, p PaymentReceived) error
	VisitPolicyBound(e Event, p PolicyBound) error
	VisitPolicyIssued(e Event, p PolicyIssued) error
	VisitPolicyInForce(e Event, p PolicyInForce) error
	VisitEndorsementRequested(e Event, p EndorsementRequested) error
	VisitEndorsementApplied(e Event, p EndorsementApplied) error
	VisitRenewalInitiated(e Event, p RenewalInitiated) error
	VisitRenewalCompleted(e Event, p RenewalCompleted) error
	VisitCancellationRequested(e Event, p CancellationRequested) error
	VisitCancellationApplied(e Event, p CancellationApplied) error
	VisitReinstatementRequested(e Event, p ReinstatementRequested) error
	VisitReinstatementApplied(e Event, p ReinstatementApplied) error
	VisitPolicyExpired(e Event, p PolicyExpired) error
}

// Visit dispatches e to the Visitor method for its payload.
func Visit(v Visitor, e Event) error {
	if e.Payload == nil {
		return fmt.Errorf("event %s v%d has no payload", e.AggregateID, e.Version)
	}
	return e.Payload.accept(v, e)
}

// --- Submission ---

type SubmissionCreated struct {
	AccountID     string `json:"accountId"`
	ProductCode   string `json:"productCode"`
	LOBCode       string `json:"lobCode"`
	EffectiveDate Date   `json:"effectiveDate"`
}

type RiskAdded struct {
	RiskID   uuid.UUID       `json:"riskId"`
	RiskType string          `json:"riskType"`
	RiskData json.RawMessage `json:"riskData"`
}

type RiskRemoved struct {
	RiskID uuid.UUID `json:"riskId"`
}

type CoverageSelected struct {
	CoverageID   uuid.UUID `json:"coverageId"`
	CoverageCode string    `json:"coverageCode"`
	Limit        Money     `json:"limit"`
	Deductible   Money     `json:"deductible"`
}

type CoverageRemoved struct {
	CoverageID   uuid.UUID `json:"coverageId"`
	CoverageCode string    `json:"coverageCode"`
}

type Submitted struct{}

// --- Underwriting ---

type UnderwritingReviewStarted struct {
	AssignedTo string  `json:"assignedTo"`
	RiskScore  float64 `json:"riskScore"`
}

type UnderwritingApproved struct {
	ApprovedBy     string   `json:"approvedBy"`
	Conditions     []string `json:"conditions"`
	AuthorityLevel string   `json:"authorityLevel"`
}

type UnderwritingDeclined struct {
	DeclinedBy string   `json:"declinedBy"`
	Reasons    []string `json:"reasons"`
}

type UnderwritingReferred struct {
	ReferredTo      string   `json:"referredTo"`
	ReferralReasons []string `json:"referralReasons"`
}

// --- Rating, quoting, binding ---

type RatingFactor struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type RatingCompleted struct {
	Premium       Money           `json:"premium"`
	Worksheet     json.RawMessage `json:"worksheet"`
	RatingFactors []RatingFactor  `json:"ratingFactors"`
}

type QuoteGenerated struct {
	QuoteNumber    string `json:"quoteNumber"`
	Premium        Money  `json:"premium"`
	ExpirationDate Date   `json:"expirationDate"`
}

type CustomerAccepted struct{}

type PaymentReceived struct{}

type PolicyBound struct {
	PolicyNumber  string `json:"policyNumber"`
	EffectiveDate Date   `json:"effectiveDate"`
	Premium       Money  `json:"premium"`
}

type PolicyIssued struct {
	Documents  []string `json:"documents"`
	IssuedDate Date     `json:"issuedDate"`
}

type PolicyInForce struct {
	EffectiveDate Date `json:"effectiveDate"`
}

// --- Mid-term ---

type FieldChange struct {
	Field    string          `json:"field"`
	OldValue json.RawMessage `json:"oldValue"`
	NewValue json.RawMessage `json:"newValue"`
}

type EndorsementRequested struct {
	Changes       []FieldChange `json:"changes"`
	EffectiveDate Date          `json:"effectiveDate"`
}

type EndorsementApplied struct {
	EndorsementNumber string `json:"endorsementNumber"`
	PremiumChange     Money  `json:"premiumChange"`
}

type ProposedChange struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

type RenewalInitiated struct {
	RenewalDate     Date             `json:"renewalDate"`
	ProposedChanges []ProposedChange `json:"proposedChanges"`
}

type RenewalCompleted struct {
	RenewalPolicyNumber string `json:"renewalPolicyNumber"`
	NewPremium          Money  `json:"newPremium"`
}

type CancellationRequested struct {
	Reason        string `json:"reason"`
	EffectiveDate Date   `json:"effectiveDate"`
	RequestedBy   string `json:"requestedBy"`
}

type CancellationApplied struct {
	RefundAmount Money `json:"refundAmount"`
}

type ReinstatementRequested struct {
	Reason string `json:"reason"`
}

type ReinstatementApplied struct {
	Conditions []string `json:"conditions"`
}

type PolicyExpired struct {
	ExpirationDate Date `json:"expirationDate"`
}

func (SubmissionCreated) EventType() EventType         { return EventSubmissionCreated }
func (RiskAdded) EventType() EventType                 { return EventRiskAdded }
func (RiskRemoved) EventType() EventType               { return EventRiskRemoved }
func (CoverageSelected) EventType() EventType          { return EventCoverageSelected }
func (CoverageRemoved) EventType() EventType           { return EventCoverageRemoved }
func (Submitted) EventType() EventType                 { return EventSubmitted }
func (UnderwritingReviewStarted) EventType() EventType { return EventUnderwritingReviewStarted }
func (UnderwritingApproved) EventType() EventType      { return EventUnderwritingApproved }
func (UnderwritingDeclined) EventType() EventType      { return EventUnderwritingDeclined }
func (UnderwritingReferred) EventType() EventType      { return EventUnderwritingReferred }
func (RatingCompleted) EventType() EventType           { return EventRatingCompleted }
func (QuoteGenerated) EventType() EventType            { return EventQuoteGenerated }
func (CustomerAccepted) EventType() EventType          { return EventCustomerAccepted }
func (PaymentReceived) EventType() EventType           { return EventPaymentReceived }
func (PolicyBound) EventType() EventType               { return EventPolicyBound }
func (PolicyIssued) EventType() EventType              { return EventPolicyIssued }
func (PolicyInForce) EventType() EventType             { return EventPolicyInForce }
func (EndorsementRequested) EventType() EventType      { return EventEndorsementRequested }
func (EndorsementApplied) EventType() EventType        { return EventEndorsementApplied }
func (RenewalInitiated) EventType() EventType          { return EventRenewalInitiated }
func (RenewalCompleted) EventType() EventType          { return EventRenewalCompleted }
func (CancellationRequested) EventType() EventType     { return EventCancellationRequested }
func (CancellationApplied) EventType() EventType       { return EventCancellationApplied }
func (ReinstatementRequested) EventType() EventType    { return EventReinstatementRequested }
func (ReinstatementApplied) EventType() EventType      { return EventReinstatementApplied }
func (PolicyExpired) EventType() EventType             { return EventPolicyExpired }

func (p SubmissionCreated) accept(v Visitor, e Event) error { return v.VisitSubmissionCreated(e, p) }
func (p RiskAdded) accept(v Visitor, e Event) error         { return v.VisitRiskAdded(e, p) }
func (p RiskRemoved) accept(v Visitor, e Event) error       { return v.VisitRiskRemoved(e, p) }
func (p CoverageSelected) accept(v Visitor, e Event) error  { return v.VisitCoverageSelected(e, p) }
func (p CoverageRemoved) accept(v Visitor, e Event) error   { return v.VisitCoverageRemoved(e, p) }
func (p Submitted) accept(v Visitor, e Event) error         { return v.VisitSubmitted(e, p) }
func (p UnderwritingReviewStarted) accept(v Visitor, e Event) error {
	return v.VisitUnderwritingReviewStarted(e, p)
}
func (p UnderwritingApproved) accept(v Visitor, e Event) error { return v.VisitUnderwritingApproved(e, p) }
func (p UnderwritingDeclined) accept(v Visitor, e Event) error { return v.VisitUnderwritingDeclined(e, p) }
func (p UnderwritingReferred) accept(v Visitor, e Event) error { return v.VisitUnderwritingReferred(e, p) }
func (p RatingCompleted) accept(v Visitor, e Event) error      { return v.VisitRatingCompleted(e, p) }
func (p QuoteGenerated) accept(v Visitor, e Event) error       { return v.VisitQuoteGenerated(e, p) }
func (p CustomerAccepted) accept(v Visitor, e Event) error     { return v.VisitCustomerAccepted(e, p) }
func (p PaymentReceived) accept(v Visitor, e Event) error      { return v.VisitPaymentReceived(e, p) }
func (p PolicyBound) accept(v Visitor, e Event) error          { return v.VisitPolicyBound(e, p) }
func (p PolicyIssued) accept(v Visitor, e Event) error         { return v.VisitPolicyIssued(e, p) }
func (p PolicyInForce) accept(v Visitor, e Event) error        { return v.VisitPolicyInForce(e, p) }
func (p EndorsementRequested) accept(v Visitor, e Event) error { return v.VisitEndorsementRequested(e, p) }
func (p EndorsementApplied) accept(v Visitor, e Event) error   { return v.VisitEndorsementApplied(e, p) }
func (p RenewalInitiated) accept(v Visitor, e Event) error     { return v.VisitRenewalInitiated(e, p) }
func (p RenewalCompleted) accept(v Visitor, e Event) error     { return v.VisitRenewalCompleted(e, p) }
func (p CancellationRequested) accept(v Visitor, e Event) error {
	return v.VisitCancellationRequested(e, p)
}
func (p CancellationApplied) accept(v Visitor, e Event) error { return v.VisitCancellationApplied(e, p) }
func (p ReinstatementRequested) accept(v Visitor, e Event) error {
	return v.VisitReinstatementRequested(e, p)
}
func (p ReinstatementApplied) accept(v Visitor, e Event) error { return v.VisitReinstatementApplied(e, p) }
func (p PolicyExpired) accept(v Visitor, e Event) error        { return v.VisitPolicyExpired(e, p) }

// --- Decoding ---

type payloadDecoder func(json.RawMessage) (Payload, error)

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

var decoders = map[EventType]payloadDecoder{
	EventSubmissionCreated:         decodeAs[SubmissionCreated],
	EventRiskAdded:                 decodeAs[RiskAdded],
	EventRiskRemoved:               decodeAs[RiskRemoved],
	EventCoverageSelected:          decodeAs[CoverageSelected],
	EventCoverageRemoved:           decodeAs[CoverageRemoved],
	EventSubmitted:                 decodeAs[Submitted],
	EventUnderwritingReviewStarted: decodeAs[UnderwritingReviewStarted],
	EventUnderwritingApproved:      decodeAs[UnderwritingApproved],
	EventUnderwritingDeclined:      decodeAs[UnderwritingDeclined],
	EventUnderwritingReferred:      decodeAs[UnderwritingReferred],
	EventRatingCompleted:           decodeAs[RatingCompleted],
	EventQuoteGenerated:            decodeAs[QuoteGenerated],
	EventCustomerAccepted:          decodeAs[CustomerAccepted],
	EventPaymentReceived:           decodeAs[PaymentReceived],
	EventPolicyBound:               decodeAs[PolicyBound],
	EventPolicyIssued:              decodeAs[PolicyIssued],
	EventPolicyInForce:             decodeAs[PolicyInForce],
	EventEndorsementRequested:      decodeAs[EndorsementRequested],
	EventEndorsementApplied:        decodeAs[EndorsementApplied],
	EventRenewalInitiated:          decodeAs[RenewalInitiated],
	EventRenewalCompleted:          decodeAs[RenewalCompleted],
	EventCancellationRequested:     decodeAs[CancellationRequested],
	EventCancellationApplied:       decodeAs[CancellationApplied],
	EventReinstatementRequested:    decodeAs[ReinstatementRequested],
	EventReinstatementApplied:      decodeAs[ReinstatementApplied],
	EventPolicyExpired:             decodeAs[PolicyExpired],
}

// DecodePayload rebuilds a typed payload from its stored JSON. Unknown event
// types are an error: the log must never hold events this build cannot fold.
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	dec, ok := decoders[t]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	p, err := dec(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

// EventTypes lists every known event type in lexical order.
func EventTypes() []EventType {
	out := make([]EventType, 0, len(decoders))
	for t := range decoders {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

package policy

import (
	"github.com/agenticcore/platform/internal/domain"
)

// Status is a policy lifecycle state.
type Status string

const (
	StatusDraft               Status = "draft"
	StatusSubmitted           Status = "submitted"
	StatusUnderwritingReview  Status = "underwriting_review"
	StatusQuoted              Status = "quoted"
	StatusDeclined            Status = "declined"
	StatusBinding             Status = "binding"
	StatusBound               Status = "bound"
	StatusIssued              Status = "issued"
	StatusInForce             Status = "in_force"
	StatusEndorsementPending  Status = "endorsement_pending"
	StatusRenewalPending      Status = "renewal_pending"
	StatusCancellationPending Status = "cancellation_pending"
	StatusCancelled           Status = "cancelled"
	StatusReinstated          Status = "reinstated"
	StatusExpired             Status = "expired"
)

// Transition names a lifecycle move requested by a command.
type Transition string

const (
	TransitionSubmit               Transition = "SUBMIT"
	TransitionStartUnderwriting    Transition = "START_UNDERWRITING"
	TransitionApproveUnderwriting  Transition = "APPROVE_UNDERWRITING"
	TransitionDeclineUnderwriting  Transition = "DECLINE_UNDERWRITING"
	TransitionReferUnderwriting    Transition = "REFER_UNDERWRITING"
	TransitionCustomerAccept       Transition = "CUSTOMER_ACCEPT"
	TransitionReceivePayment       Transition = "RECEIVE_PAYMENT"
	TransitionBindPolicy           Transition = "BIND_POLICY"
	TransitionIssuePolicy          Transition = "ISSUE_POLICY"
	TransitionActivatePolicy       Transition = "ACTIVATE_POLICY"
	TransitionRequestEndorsement   Transition = "REQUEST_ENDORSEMENT"
	TransitionCompleteEndorsement  Transition = "COMPLETE_ENDORSEMENT"
	TransitionRequestRenewal       Transition = "REQUEST_RENEWAL"
	TransitionCompleteRenewal      Transition = "COMPLETE_RENEWAL"
	TransitionRequestCancellation  Transition = "REQUEST_CANCELLATION"
	TransitionApproveCancellation  Transition = "APPROVE_CANCELLATION"
	TransitionRequestReinstatement Transition = "REQUEST_REINSTATEMENT"
	TransitionApproveReinstatement Transition = "APPROVE_REINSTATEMENT"
	TransitionExpire               Transition = "EXPIRE"
)

// InitialStatus is the status of a freshly created submission.
const InitialStatus = StatusDraft

var servicing = map[Transition]Status{
	TransitionRequestEndorsement:  StatusEndorsementPending,
	TransitionRequestRenewal:      StatusRenewalPending,
	TransitionRequestCancellation: StatusCancellationPending,
	TransitionExpire:              StatusExpired,
}

// lifecycle is the full transition table. A missing pair is illegal.
var lifecycle = map[Status]map[Transition]Status{
	StatusDraft:              {TransitionSubmit: StatusSubmitted},
	StatusSubmitted:          {TransitionStartUnderwriting: StatusUnderwritingReview},
	StatusUnderwritingReview: {
		TransitionApproveUnderwriting: StatusQuoted,
		TransitionDeclineUnderwriting: StatusDeclined,
		TransitionReferUnderwriting:   StatusUnderwritingReview,
	},
	StatusQuoted:              {TransitionCustomerAccept: StatusBinding},
	StatusBinding:             {TransitionReceivePayment: StatusBound},
	StatusBound:               {TransitionBindPolicy: StatusBound, TransitionIssuePolicy: StatusIssued},
	StatusIssued:              {TransitionActivatePolicy: StatusInForce},
	StatusInForce:             servicing,
	StatusReinstated:          servicing,
	StatusEndorsementPending:  {TransitionCompleteEndorsement: StatusInForce},
	StatusRenewalPending:      {TransitionCompleteRenewal: StatusInForce},
	StatusCancellationPending: {TransitionApproveCancellation: StatusCancelled},
	StatusCancelled: {
		TransitionRequestReinstatement: StatusCancelled,
		TransitionApproveReinstatement: StatusReinstated,
	},
	StatusDeclined: {},
	StatusExpired:  {},
}

// Statuses lists every lifecycle status.
func Statuses() []Status {
	return []Status{
		StatusDraft, StatusSubmitted, StatusUnderwritingReview, StatusQuoted, StatusDeclined,
		StatusBinding, StatusBound, StatusIssued, StatusInForce, StatusEndorsementPending,
		StatusRenewalPending, StatusCancellationPending, StatusCancelled, StatusReinstated, StatusExpired,
	}
}

// Transitions lists every transition name.
func Transitions() []Transition {
	return []Transition{
		TransitionSubmit, TransitionStartUnderwriting, TransitionApproveUnderwriting,
		TransitionDeclineUnderwriting, TransitionReferUnderwriting, TransitionCustomerAccept,
		TransitionReceivePayment, TransitionBindPolicy, TransitionIssuePolicy, TransitionActivatePolicy,
		TransitionRequestEndorsement, TransitionCompleteEndorsement, TransitionRequestRenewal,
		TransitionCompleteRenewal, TransitionRequestCancellation, TransitionApproveCancellation,
		TransitionRequestReinstatement, TransitionApproveReinstatement, TransitionExpire,
	}
}

// CanTransition reports whether t is legal from s. Unknown statuses and
// transitions are never legal.
func CanTransition(s Status, t Transition) bool {
	_, ok := lifecycle[s][t]
	return ok
}

// Next returns the status reached by applying t to s.
func Next(s Status, t Transition) (Status, error) {
	to, ok := lifecycle[s][t]
	if !ok {
		return s, &domain.InvalidStateTransitionError{Current: string(s), Attempted: string(t)}
	}
	return to, nil
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s Status) bool {
	return len(lifecycle[s]) == 0
}

// AvailableTransitions lists the transitions legal from s.
func AvailableTransitions(s Status) []Transition {
	var out []Transition
	for _, t := range Transitions() {
		if CanTransition(s, t) {
			out = append(out, t)
		}
	}
	return out
}

// eventTransitions maps lifecycle events to the transition they record.
// Events absent here leave the status unchanged.
var eventTransitions = map[domain.EventType]Transition{
	domain.EventSubmitted:                 TransitionSubmit,
	domain.EventUnderwritingReviewStarted: TransitionStartUnderwriting,
	domain.EventUnderwritingApproved:      TransitionApproveUnderwriting,
	domain.EventUnderwritingDeclined:      TransitionDeclineUnderwriting,
	domain.EventUnderwritingReferred:      TransitionReferUnderwriting,
	domain.EventCustomerAccepted:          TransitionCustomerAccept,
	domain.EventPaymentReceived:           TransitionReceivePayment,
	domain.EventPolicyBound:               TransitionBindPolicy,
	domain.EventPolicyIssued:              TransitionIssuePolicy,
	domain.EventPolicyInForce:             TransitionActivatePolicy,
	domain.EventEndorsementRequested:      TransitionRequestEndorsement,
	domain.EventEndorsementApplied:        TransitionCompleteEndorsement,
	domain.EventRenewalInitiated:          TransitionRequestRenewal,
	domain.EventRenewalCompleted:          TransitionCompleteRenewal,
	domain.EventCancellationRequested:     TransitionRequestCancellation,
	domain.EventCancellationApplied:       TransitionApproveCancellation,
	domain.EventReinstatementRequested:    TransitionRequestReinstatement,
	domain.EventReinstatementApplied:      TransitionApproveReinstatement,
	domain.EventPolicyExpired:             TransitionExpire,
}

// TransitionFor returns the transition an event records, if any.
func TransitionFor(t domain.EventType) (Transition, bool) {
	tr, ok := eventTransitions[t]
	return tr, ok
}

// StatusAfter folds one event into a status without checking legality.
// History is trusted: an event whose transition is not in the table still
// lands on the target the table defines for that transition.
func StatusAfter(s Status, t domain.EventType) Status {
	tr, ok := eventTransitions[t]
	if !ok {
		return s
	}
	if to, ok := lifecycle[s][tr]; ok {
		return to
	}
	return targetOf(tr)
}

func targetOf(tr Transition) Status {
	for _, targets := range lifecycle {
		if to, ok := targets[tr]; ok {
			return to
		}
	}
	return ""
}

// TargetStatus returns the status a lifecycle event lands on. Every
// transition has a single target, so the origin status is not needed.
func TargetStatus(t domain.EventType) (Status, bool) {
	tr, ok := eventTransitions[t]
	if !ok {
		return "", false
	}
	return targetOf(tr), true
}

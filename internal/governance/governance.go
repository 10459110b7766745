// Package governance defines the pre-check contract every underwriting and
// servicing action passes before it touches an aggregate.
package governance

//go:generate mockgen -source=governance.go -destination=mocks/mocks.go -package=mocks Checker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agenticcore/platform/internal/domain"
)

// Outcome is the rule engine's verdict.
type Outcome string

const (
	OutcomeApproved  Outcome = "approved"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeEscalated Outcome = "escalated"
)

// Actions checked by the policy service.
const (
	ActionStartReview          = "start_underwriting_review"
	ActionApproveSubmission    = "approve_submission"
	ActionDeclineSubmission    = "decline_submission"
	ActionReferSubmission      = "refer_submission"
	ActionCalculateQuote       = "calculate_quote"
	ActionBindPolicy           = "bind_policy"
	ActionProcessEndorsement   = "process_endorsement"
	ActionProcessRenewal       = "process_renewal"
	ActionProcessCancellation  = "process_cancellation"
	ActionProcessReinstatement = "process_reinstatement"
)

// Request describes the action an agent wants to take.
type Request struct {
	AgentType string          `json:"agentType"`
	AgentID   string          `json:"agentId"`
	Action    string          `json:"action"`
	Target    string          `json:"target"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Amount    *domain.Money   `json:"amount,omitempty"`
	RiskScore *float64        `json:"riskScore,omitempty"`
}

// Decision is the verdict for one Request.
type Decision struct {
	Allowed      bool     `json:"allowed"`
	Decision     Outcome  `json:"decision"`
	BlockReasons []string `json:"blockReasons,omitempty"`
	EscalateTo   string   `json:"escalateTo,omitempty"`
}

// Checker evaluates governance rules and authority limits.
type Checker interface {
	Check(ctx context.Context, req Request) (Decision, error)
}

// Err converts a decision into the error the caller must return. Nil means
// the action may proceed.
func (d Decision) Err(action string) error {
	if d.Allowed {
		return nil
	}
	switch d.Decision {
	case OutcomeEscalated:
		return domain.ErrGovernanceEscalated(action, d.EscalateTo)
	case OutcomeBlocked:
		return domain.ErrGovernanceBlocked(action, d.BlockReasons)
	default:
		reasons := d.BlockReasons
		if len(reasons) == 0 {
			reasons = []string{fmt.Sprintf("unexpected decision %q", d.Decision)}
		}
		return domain.ErrGovernanceBlocked(action, reasons)
	}
}

// AllowAll approves every request. Operator tooling uses it where no rule
// engine is configured.
type AllowAll struct{}

func (AllowAll) Check(context.Context, Request) (Decision, error) {
	return Decision{Allowed: true, Decision: OutcomeApproved}, nil
}

// Limit is an authority limit for one agent type and action.
type Limit struct {
	AgentType             string
	Action                string
	MaxAmount             *domain.Money
	MaxRiskScore          *float64
	RequiresHumanApproval bool
	EscalateTo            string
}

// LimitChecker enforces static authority limits. Requests with no matching
// limit are approved.
type LimitChecker struct {
	limits map[string]Limit
}

// NewLimitChecker indexes limits by agent type and action.
func NewLimitChecker(limits ...Limit) *LimitChecker {
	idx := make(map[string]Limit, len(limits))
	for _, l := range limits {
		idx[limitKey(l.AgentType, l.Action)] = l
	}
	return &LimitChecker{limits: idx}
}

func limitKey(agentType, action string) string {
	return strings.ToLower(agentType) + "/" + action
}

func (c *LimitChecker) Check(_ context.Context, req Request) (Decision, error) {
	l, ok := c.limits[limitKey(req.AgentType, req.Action)]
	if !ok {
		return Decision{Allowed: true, Decision: OutcomeApproved}, nil
	}

	var reasons []string
	if l.MaxAmount != nil && req.Amount != nil {
		if req.Amount.Currency != l.MaxAmount.Currency {
			reasons = append(reasons, fmt.Sprintf("amount currency %s does not match limit currency %s",
				req.Amount.Currency, l.MaxAmount.Currency))
		} else if req.Amount.Cents > l.MaxAmount.Cents {
			reasons = append(reasons, fmt.Sprintf("amount %s exceeds authority limit %s", req.Amount, l.MaxAmount))
		}
	}
	if l.MaxRiskScore != nil && req.RiskScore != nil && *req.RiskScore > *l.MaxRiskScore {
		reasons = append(reasons, fmt.Sprintf("risk score %.1f exceeds limit %.1f", *req.RiskScore, *l.MaxRiskScore))
	}

	switch {
	case len(reasons) > 0 && l.EscalateTo != "":
		return Decision{Decision: OutcomeEscalated, BlockReasons: reasons, EscalateTo: l.EscalateTo}, nil
	case len(reasons) > 0:
		return Decision{Decision: OutcomeBlocked, BlockReasons: reasons}, nil
	case l.RequiresHumanApproval:
		return Decision{
			Decision:     OutcomeEscalated,
			BlockReasons: []string{"requires human approval"},
			EscalateTo:   l.EscalateTo,
		}, nil
	}
	return Decision{Allowed: true, Decision: OutcomeApproved}, nil
}

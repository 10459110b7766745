package policy

import (
	"bytes"
	"encoding/json"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/google/uuid"
)

// Risk is an insured exposure attached to a policy.
type Risk struct {
	ID       uuid.UUID       `json:"id"`
	RiskType string          `json:"riskType"`
	Data     json.RawMessage `json:"data"`
}

// Coverage is a selected coverage with its limit and deductible. Premium
// stays zero until coverage-level rating is recorded.
type Coverage struct {
	ID           uuid.UUID    `json:"id"`
	CoverageCode string       `json:"coverageCode"`
	Limit        domain.Money `json:"limit"`
	Deductible   domain.Money `json:"deductible"`
	Premium      domain.Money `json:"premium"`
}

// State is everything folded from a policy's events. It doubles as the
// snapshot body.
type State struct {
	AccountID               string        `json:"accountId"`
	ProductCode             string        `json:"productCode"`
	LOBCode                 string        `json:"lobCode"`
	Status                  Status        `json:"status"`
	EffectiveDate           domain.Date   `json:"effectiveDate"`
	ExpirationDate          domain.Date   `json:"expirationDate"`
	PolicyNumber            string        `json:"policyNumber"`
	QuoteNumber             string        `json:"quoteNumber"`
	QuoteExpirationDate     domain.Date   `json:"quoteExpirationDate"`
	Premium                 domain.Money  `json:"premium"`
	Risks                   []Risk        `json:"risks"`
	Coverages               []Coverage    `json:"coverages"`
	AssignedUnderwriter     string        `json:"assignedUnderwriter"`
	RiskScore               float64       `json:"riskScore"`
	UnderwritingConditions  []string      `json:"underwritingConditions"`
	DeclineReasons          []string      `json:"declineReasons"`
	ReferralCount           int           `json:"referralCount"`
	Documents               []string      `json:"documents"`
	EndorsementCount        int           `json:"endorsementCount"`
	RenewalPolicyNumber     string        `json:"renewalPolicyNumber,omitempty"`
	CancellationReason      string        `json:"cancellationReason,omitempty"`
	RefundAmount            *domain.Money `json:"refundAmount,omitempty"`
	ReinstatementConditions []string      `json:"reinstatementConditions"`
}

// compactJSON returns data in compact form, and "null" when data is empty,
// so a risk folded from an event and one restored from a snapshot compare equal.
func compactJSON(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage("null")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return append(json.RawMessage(nil), data...)
	}
	return buf.Bytes()
}

func newState() State {
	return State{Status: InitialStatus, Premium: domain.Zero(domain.DefaultCurrency)}
}

// clone returns a copy that shares no slices with s.
func (s State) clone() State {
	out := s
	out.Risks = append([]Risk(nil), s.Risks...)
	for i := range out.Risks {
		out.Risks[i].Data = append(json.RawMessage(nil), s.Risks[i].Data...)
	}
	out.Coverages = append([]Coverage(nil), s.Coverages...)
	out.UnderwritingConditions = cloneStrings(s.UnderwritingConditions)
	out.DeclineReasons = cloneStrings(s.DeclineReasons)
	out.Documents = cloneStrings(s.Documents)
	out.ReinstatementConditions = cloneStrings(s.ReinstatementConditions)
	if s.RefundAmount != nil {
		r := *s.RefundAmount
		out.RefundAmount = &r
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

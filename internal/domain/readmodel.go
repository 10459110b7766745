package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PolicyView is the queryable policies row maintained by the projection.
// Timestamps come from event metadata so a rebuild reproduces them exactly.
type PolicyView struct {
	ID             uuid.UUID `json:"id"`
	PolicyNumber   string    `json:"policyNumber,omitempty"`
	QuoteNumber    string    `json:"quoteNumber,omitempty"`
	AccountID      string    `json:"accountId"`
	ProductCode    string    `json:"productCode"`
	LOBCode        string    `json:"lobCode"`
	Status         string    `json:"status"`
	EffectiveDate  Date      `json:"effectiveDate"`
	ExpirationDate Date      `json:"expirationDate"`
	Premium        Money     `json:"premium"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// RiskView is a policy_risks row. Position is the version of the event that
// added it and fixes list order.
type RiskView struct {
	ID       uuid.UUID       `json:"id"`
	PolicyID uuid.UUID       `json:"policyId"`
	RiskType string          `json:"riskType"`
	Data     json.RawMessage `json:"data"`
	Position int             `json:"position"`
}

// CoverageView is a policy_coverages row.
type CoverageView struct {
	ID           uuid.UUID `json:"id"`
	PolicyID     uuid.UUID `json:"policyId"`
	CoverageCode string    `json:"coverageCode"`
	Limit        Money     `json:"limit"`
	Deductible   Money     `json:"deductible"`
	Premium      Money     `json:"premium"`
	Position     int       `json:"position"`
}

// PolicyPatch is a partial update of a policies row. Version and UpdatedAt are
// always written; nil fields are left alone. PremiumDelta is added to the
// stored premium and must share its currency.
type PolicyPatch struct {
	Status         *string
	PolicyNumber   *string
	QuoteNumber    *string
	EffectiveDate  *Date
	ExpirationDate *Date
	Premium        *Money
	PremiumDelta   *Money
	Version        int
	UpdatedAt      time.Time
}

// PolicySummary is the cached shape returned to readers.
type PolicySummary struct {
	Policy    PolicyView     `json:"policy"`
	Risks     []RiskView     `json:"risks"`
	Coverages []CoverageView `json:"coverages"`
}

// Snapshot is a stored fold of an aggregate at a version.
type Snapshot struct {
	AggregateID   uuid.UUID
	AggregateType AggregateType
	Version       int
	State         json.RawMessage
	CreatedAt     time.Time
}

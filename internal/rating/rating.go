// Package rating defines the contract of the rating pipeline. Premium
// calculation itself lives outside this module.
package rating

//go:generate mockgen -source=rating.go -destination=mocks/mocks.go -package=mocks Pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agenticcore/platform/internal/domain"
)

// RiskInput is one rated risk.
type RiskInput struct {
	RiskType string          `json:"riskType"`
	Data     json.RawMessage `json:"data"`
}

// CoverageInput is one rated coverage.
type CoverageInput struct {
	CoverageCode string       `json:"coverageCode"`
	Limit        domain.Money `json:"limit"`
	Deductible   domain.Money `json:"deductible"`
}

// Modifier is a scheduled or unscheduled rating modifier.
type Modifier struct {
	Code   string  `json:"code"`
	Type   string  `json:"type"`
	Factor float64 `json:"factor"`
}

// Input is everything the pipeline needs to price a submission.
type Input struct {
	SubmissionID  string          `json:"submissionId"`
	ProductCode   string          `json:"productCode"`
	LOBCode       string          `json:"lobCode"`
	StateCode     string          `json:"stateCode"`
	EffectiveDate domain.Date     `json:"effectiveDate"`
	Risks         []RiskInput     `json:"risks"`
	Coverages     []CoverageInput `json:"coverages"`
	Modifiers     []Modifier      `json:"modifiers"`
}

// RateTableEntry maps dimension keys to a rate.
type RateTableEntry struct {
	Keys  map[string]string `json:"keys"`
	Value float64           `json:"value"`
}

// RateTable is one versioned table of base rates.
type RateTable struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	LOBCode        string           `json:"lobCode"`
	StateCode      string           `json:"stateCode"`
	EffectiveDate  domain.Date      `json:"effectiveDate"`
	ExpirationDate domain.Date      `json:"expirationDate"`
	Entries        []RateTableEntry `json:"entries"`
}

// RateTables is the set of tables passed to one execution.
type RateTables []RateTable

// ForLOB filters tables by line of business and state.
func (ts RateTables) ForLOB(lobCode, stateCode string) RateTables {
	var out RateTables
	for _, t := range ts {
		if t.LOBCode == lobCode && (stateCode == "" || t.StateCode == stateCode) {
			out = append(out, t)
		}
	}
	return out
}

// WorksheetStep records one pipeline step.
type WorksheetStep struct {
	Step        int             `json:"step"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
}

// CoveragePremium is the premium attributed to one coverage.
type CoveragePremium struct {
	CoverageCode string       `json:"coverageCode"`
	Premium      domain.Money `json:"premium"`
}

// Worksheet is the auditable result of a rating run.
type Worksheet struct {
	QuoteNumber      string                `json:"quoteNumber,omitempty"`
	SubmissionID     string                `json:"submissionId"`
	Steps            []WorksheetStep       `json:"steps"`
	CoveragePremiums []CoveragePremium     `json:"coveragePremiums"`
	Factors          []domain.RatingFactor `json:"factors,omitempty"`
	TotalPremium     domain.Money          `json:"totalPremium"`
	Fees             domain.Money          `json:"fees"`
	FinalPremium     domain.Money          `json:"finalPremium"`
	CalculatedAt     time.Time             `json:"calculatedAt"`
}

// Validate checks the fields the policy aggregate relies on.
func (w Worksheet) Validate() error {
	if err := domain.ValidateCurrency(w.FinalPremium.Currency); err != nil {
		return err
	}
	return domain.ValidateNonNegative("finalPremium", w.FinalPremium)
}

// Pipeline prices a submission against rate tables.
type Pipeline interface {
	Execute(ctx context.Context, in Input, tables RateTables) (*Worksheet, error)
}

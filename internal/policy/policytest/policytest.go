// Package policytest builds policies in known lifecycle states for tests.
package policytest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/policy"
	"github.com/google/uuid"
)

// Meta is the command metadata used by fixtures.
var Meta = domain.CommandMetadata{
	CorrelationID: "test-correlation",
	Actor:         domain.Actor{Type: domain.ActorSystem, ID: "test", Name: "Test"},
}

// EffectiveDate is the fixture effective date.
var EffectiveDate = domain.MustDate("2026-03-01")

// StepClock returns a clock that advances one second per call from start.
func StepClock(start time.Time) domain.Clock {
	next := start
	return func() time.Time {
		t := next
		next = next.Add(time.Second)
		return t
	}
}

// Draft returns a new submission for account A1 with a fixed clock.
func Draft(id uuid.UUID) *policy.Policy {
	p := policy.New(id)
	p.SetClock(StepClock(time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)))
	must(p.CreateSubmission("A1", "personal-auto", "personal-auto", EffectiveDate, Meta))
	return p
}

// Quoted walks a draft through underwriting approval, with one vehicle and
// one liability coverage attached.
func Quoted(id uuid.UUID) *policy.Policy {
	p := Draft(id)
	_, err := p.AddRisk("vehicle", json.RawMessage(`{"vin":"1HGBH41JXMN109186","year":2024}`), Meta)
	must(err)
	_, err = p.SelectCoverage("liability", domain.NewMoney(100000, "USD"), domain.NewMoney(500, "USD"), Meta)
	must(err)
	must(p.Submit(Meta))
	must(p.StartUnderwritingReview("uw-1", 50, Meta))
	must(p.ApproveUnderwriting("uw-1", nil, "standard", Meta))
	return p
}

// InForce walks a policy all the way to in_force with a premium of 1500 USD.
func InForce(id uuid.UUID) *policy.Policy {
	p := Quoted(id)
	premium := domain.NewMoney(1500, "USD")
	must(p.CompleteRating(premium, json.RawMessage(`{"base":1500}`), []domain.RatingFactor{{Name: "territory", Value: 1}}, Meta))
	must(p.GenerateQuote("QTE-001", premium, domain.MustDate("2026-04-01"), Meta))
	must(p.AcceptAndBind(Meta))
	must(p.ReceivePayment(Meta))
	must(p.BindPolicy("POL-001", EffectiveDate, premium, Meta))
	must(p.IssuePolicy([]string{"declarations.pdf"}, domain.MustDate("2026-02-20"), Meta))
	must(p.ActivatePolicy(EffectiveDate, Meta))
	return p
}

// Committed clears the pending buffer as if the policy had been persisted.
func Committed(p *policy.Policy) *policy.Policy {
	p.ClearUncommittedEvents()
	return p
}

func must(err error) {
	if err != nil {
		panic(fmt.Sprintf("policytest fixture: %v", err))
	}
}

//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/rating"
	"github.com/agenticcore/platform/internal/service"
	"github.com/google/uuid"
)

// Meta is the command metadata integration tests issue commands with.
var Meta = domain.CommandMetadata{
	CorrelationID: "integration-correlation",
	Actor:         domain.Actor{Type: domain.ActorHuman, ID: "ops-1", Name: "Integration"},
}

// EffectiveDate is the effective date of every test submission.
var EffectiveDate = domain.MustDate("2026-03-01")

// FixedRating is a rating.Pipeline that prices every submission at Premium,
// 1500 USD when unset.
type FixedRating struct {
	Premium domain.Money
	calls   atomic.Int32
}

func (r *FixedRating) Execute(_ context.Context, in rating.Input, _ rating.RateTables) (*rating.Worksheet, error) {
	r.calls.Add(1)
	premium := r.Premium
	if premium.Currency == "" {
		premium = domain.NewMoney(1500, "USD")
	}
	return &rating.Worksheet{
		SubmissionID: in.SubmissionID,
		Steps: []rating.WorksheetStep{
			{Step: 1, Name: "base", Description: "fixed base premium"},
		},
		Factors:      []domain.RatingFactor{{Name: "territory", Value: 1}},
		TotalPremium: premium,
		Fees:         domain.Zero(premium.Currency),
		FinalPremium: premium,
		CalculatedAt: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
	}, nil
}

// Calls reports how many times the pipeline ran.
func (r *FixedRating) Calls() int {
	return int(r.calls.Load())
}

// CreateSubmission opens a personal-auto submission for account.
func (env *TestEnv) CreateSubmission(account string) uuid.UUID {
	env.t.Helper()
	id, err := env.Service.CreateSubmission(context.Background(), service.SubmissionInput{
		AccountID:     account,
		ProductCode:   "personal-auto",
		LOBCode:       "personal-auto",
		EffectiveDate: EffectiveDate,
	}, Meta)
	env.must("create submission", err)
	return id
}

// CreateInForce walks a new policy for account through the whole new
// business flow and returns its id and policy number.
func (env *TestEnv) CreateInForce(account string) (uuid.UUID, string) {
	env.t.Helper()
	ctx := context.Background()
	id := env.CreateSubmission(account)

	_, err := env.Service.AddRisk(ctx, id, "vehicle", json.RawMessage(`{"vin":"1HGBH41JXMN109186","year":2024}`), Meta)
	env.must("add risk", err)
	_, err = env.Service.SelectCoverage(ctx, id, "liability", domain.NewMoney(100000, "USD"), domain.NewMoney(500, "USD"), Meta)
	env.must("select coverage", err)
	_, err = env.Service.Submit(ctx, id, Meta)
	env.must("submit", err)
	_, err = env.Service.StartUnderwriting(ctx, id, "uw-1", 50, Meta)
	env.must("start underwriting", err)
	_, err = env.Service.ApproveUnderwriting(ctx, id, "uw-1", nil, "", Meta)
	env.must("approve underwriting", err)
	_, err = env.Service.RatePolicy(ctx, id, "CA", nil, Meta)
	env.must("rate policy", err)
	_, err = env.Service.GenerateQuote(ctx, id, "", domain.MustDate("2026-04-01"), Meta)
	env.must("generate quote", err)
	number, err := env.Service.Bind(ctx, id, Meta)
	env.must("bind", err)
	_, err = env.Service.Issue(ctx, id, nil, Meta)
	env.must("issue", err)
	_, err = env.Service.Activate(ctx, id, Meta)
	env.must("activate", err)
	return id, number
}

func (env *TestEnv) must(step string, err error) {
	env.t.Helper()
	if err != nil {
		env.t.Fatalf("%s: %v", step, err)
	}
}

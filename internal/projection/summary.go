package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/repository"
	"github.com/google/uuid"
)

// DefaultSummaryTTL bounds how long a cached summary may be served.
const DefaultSummaryTTL = 5 * time.Minute

func summaryKey(policyID uuid.UUID) string {
	return fmt.Sprintf("projection:policy:%s", policyID)
}

// PutSummary caches a policy summary.
func PutSummary(ctx context.Context, store Store, s domain.PolicySummary, ttl time.Duration) error {
	return SetJSON(ctx, store, summaryKey(s.Policy.ID), s, ttl)
}

// GetSummary retrieves a cached policy summary. A miss wraps ErrNotCached.
func GetSummary(ctx context.Context, store Store, policyID uuid.UUID) (*domain.PolicySummary, error) {
	var s domain.PolicySummary
	if err := GetJSON(ctx, store, summaryKey(policyID), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// InvalidateSummary removes a policy's cached summary.
func InvalidateSummary(ctx context.Context, store Store, policyID uuid.UUID) error {
	return store.Delete(ctx, summaryKey(policyID))
}

// LoadSummary reads a policy and its children from the read model. Returns
// nil when the policy has no row.
func LoadSummary(ctx context.Context, db repository.DBTX, rm repository.PolicyReadModel, policyID uuid.UUID) (*domain.PolicySummary, error) {
	row, err := rm.FindByID(ctx, db, policyID)
	if err != nil || row == nil {
		return nil, err
	}
	risks, err := rm.ListRisks(ctx, db, policyID)
	if err != nil {
		return nil, err
	}
	coverages, err := rm.ListCoverages(ctx, db, policyID)
	if err != nil {
		return nil, err
	}
	return &domain.PolicySummary{Policy: *row, Risks: risks, Coverages: coverages}, nil
}

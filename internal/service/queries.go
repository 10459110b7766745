package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/projection"
	"github.com/google/uuid"
)

// GetPolicy returns the read-model summary of a policy, served from the
// summary cache when present.
func (s *PolicyService) GetPolicy(ctx context.Context, id uuid.UUID) (*domain.PolicySummary, error) {
	if s.cache != nil {
		cached, err := projection.GetSummary(ctx, s.cache, id)
		switch {
		case err == nil:
			s.cacheLookup(true)
			return cached, nil
		case !errors.Is(err, projection.ErrNotCached):
			s.logger.Warn("summary cache read failed", "aggregate_id", id, "error", err)
		}
		s.cacheLookup(false)
	}

	summary, err := projection.LoadSummary(ctx, s.db, s.readModel, id)
	if err != nil {
		return nil, fmt.Errorf("get policy %s: %w", id, err)
	}
	if summary == nil {
		return nil, domain.ErrNotFound("policy", id.String())
	}

	if s.cache != nil {
		if err := projection.PutSummary(ctx, s.cache, *summary, s.summaryTTL); err != nil {
			s.logger.Warn("summary cache write failed", "aggregate_id", id, "error", err)
		}
	}
	return summary, nil
}

// GetPolicyByNumber looks a policy up by its bound policy number.
func (s *PolicyService) GetPolicyByNumber(ctx context.Context, policyNumber string) (*domain.PolicyView, error) {
	row, err := s.readModel.FindByPolicyNumber(ctx, s.db, policyNumber)
	if err != nil {
		return nil, fmt.Errorf("get policy %s: %w", policyNumber, err)
	}
	if row == nil {
		return nil, domain.ErrNotFound("policy", policyNumber)
	}
	return row, nil
}

// ListByAccount returns an account's policies, oldest first.
func (s *PolicyService) ListByAccount(ctx context.Context, accountID string) ([]domain.PolicyView, error) {
	rows, err := s.readModel.ListByAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, fmt.Errorf("list policies for account %s: %w", accountID, err)
	}
	return rows, nil
}

// GetEvents returns a policy's full history in version order.
func (s *PolicyService) GetEvents(ctx context.Context, id uuid.UUID) ([]domain.Event, error) {
	events, err := s.events.GetEvents(ctx, s.db, id, 0)
	if err != nil {
		return nil, fmt.Errorf("get events %s: %w", id, err)
	}
	if len(events) == 0 {
		return nil, domain.ErrNotFound("policy", id.String())
	}
	return events, nil
}

func (s *PolicyService) cacheLookup(hit bool) {
	if s.metrics != nil {
		s.metrics.IncrementCacheLookup(hit)
	}
}

package projection

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/repository"
	"github.com/google/uuid"
)

// InMemoryReadModel is a map-backed PolicyReadModel for tests and local
// tooling. The db handle is ignored.
type InMemoryReadModel struct {
	mu        sync.RWMutex
	policies  map[uuid.UUID]domain.PolicyView
	risks     map[uuid.UUID]map[uuid.UUID]domain.RiskView
	coverages map[uuid.UUID]map[uuid.UUID]domain.CoverageView
}

var _ repository.PolicyReadModel = (*InMemoryReadModel)(nil)

// NewInMemoryReadModel creates an empty read model.
func NewInMemoryReadModel() *InMemoryReadModel {
	return &InMemoryReadModel{
		policies:  make(map[uuid.UUID]domain.PolicyView),
		risks:     make(map[uuid.UUID]map[uuid.UUID]domain.RiskView),
		coverages: make(map[uuid.UUID]map[uuid.UUID]domain.CoverageView),
	}
}

func (m *InMemoryReadModel) InsertPolicy(_ context.Context, _ repository.DBTX, row domain.PolicyView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[row.ID]; ok {
		return fmt.Errorf("insert policy: %s already exists", row.ID)
	}
	if row.PolicyNumber != "" {
		for _, p := range m.policies {
			if p.PolicyNumber == row.PolicyNumber {
				return fmt.Errorf("insert policy: policy number %s already taken", row.PolicyNumber)
			}
		}
	}
	m.policies[row.ID] = row
	return nil
}

func (m *InMemoryReadModel) UpdatePolicy(_ context.Context, _ repository.DBTX, id uuid.UUID, patch domain.PolicyPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.policies[id]
	if !ok {
		return domain.ErrNotFound("policy", id.String())
	}
	if patch.PremiumDelta != nil {
		if row.Premium.Currency != patch.PremiumDelta.Currency {
			return &domain.CurrencyMismatchError{Expected: row.Premium.Currency, Actual: patch.PremiumDelta.Currency}
		}
	}

	row.Version = patch.Version
	row.UpdatedAt = patch.UpdatedAt
	if patch.Status != nil {
		row.Status = *patch.Status
	}
	if patch.PolicyNumber != nil {
		row.PolicyNumber = *patch.PolicyNumber
	}
	if patch.QuoteNumber != nil {
		row.QuoteNumber = *patch.QuoteNumber
	}
	if patch.EffectiveDate != nil {
		row.EffectiveDate = *patch.EffectiveDate
	}
	if patch.ExpirationDate != nil {
		row.ExpirationDate = *patch.ExpirationDate
	}
	if patch.Premium != nil {
		row.Premium = *patch.Premium
	}
	if patch.PremiumDelta != nil {
		row.Premium.Cents += patch.PremiumDelta.Cents
	}
	m.policies[id] = row
	return nil
}

func (m *InMemoryReadModel) InsertRisk(_ context.Context, _ repository.DBTX, row domain.RiskView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[row.PolicyID]; !ok {
		return fmt.Errorf("insert risk: policy %s does not exist", row.PolicyID)
	}
	if m.risks[row.PolicyID] == nil {
		m.risks[row.PolicyID] = make(map[uuid.UUID]domain.RiskView)
	}
	if _, ok := m.risks[row.PolicyID][row.ID]; ok {
		return fmt.Errorf("insert risk: %s already exists", row.ID)
	}
	row.Data = append([]byte(nil), row.Data...)
	m.risks[row.PolicyID][row.ID] = row
	return nil
}

func (m *InMemoryReadModel) DeleteRisk(_ context.Context, _ repository.DBTX, policyID, riskID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.risks[policyID], riskID)
	return nil
}

func (m *InMemoryReadModel) InsertCoverage(_ context.Context, _ repository.DBTX, row domain.CoverageView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[row.PolicyID]; !ok {
		return fmt.Errorf("insert coverage: policy %s does not exist", row.PolicyID)
	}
	if m.coverages[row.PolicyID] == nil {
		m.coverages[row.PolicyID] = make(map[uuid.UUID]domain.CoverageView)
	}
	if _, ok := m.coverages[row.PolicyID][row.ID]; ok {
		return fmt.Errorf("insert coverage: %s already exists", row.ID)
	}
	m.coverages[row.PolicyID][row.ID] = row
	return nil
}

func (m *InMemoryReadModel) DeleteCoverage(_ context.Context, _ repository.DBTX, policyID, coverageID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.coverages[policyID], coverageID)
	return nil
}

func (m *InMemoryReadModel) DeletePolicy(_ context.Context, _ repository.DBTX, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.coverages, id)
	delete(m.risks, id)
	delete(m.policies, id)
	return nil
}

func (m *InMemoryReadModel) FindByID(_ context.Context, _ repository.DBTX, id uuid.UUID) (*domain.PolicyView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.policies[id]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *InMemoryReadModel) FindByPolicyNumber(_ context.Context, _ repository.DBTX, policyNumber string) (*domain.PolicyView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.policies {
		if policyNumber != "" && row.PolicyNumber == policyNumber {
			return &row, nil
		}
	}
	return nil, nil
}

func (m *InMemoryReadModel) ListByAccount(_ context.Context, _ repository.DBTX, accountID string) ([]domain.PolicyView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.PolicyView
	for _, row := range m.policies {
		if row.AccountID == accountID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *InMemoryReadModel) ListRisks(_ context.Context, _ repository.DBTX, policyID uuid.UUID) ([]domain.RiskView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.RiskView, 0, len(m.risks[policyID]))
	for _, r := range m.risks[policyID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *InMemoryReadModel) ListCoverages(_ context.Context, _ repository.DBTX, policyID uuid.UUID) ([]domain.CoverageView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.CoverageView, 0, len(m.coverages[policyID]))
	for _, c := range m.coverages[policyID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// Checkpoint captures the current rows; calling the returned func restores
// them. Test transaction runners use it to emulate rollback.
func (m *InMemoryReadModel) Checkpoint() func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	policies := make(map[uuid.UUID]domain.PolicyView, len(m.policies))
	for k, v := range m.policies {
		policies[k] = v
	}
	risks := make(map[uuid.UUID]map[uuid.UUID]domain.RiskView, len(m.risks))
	for pid, rows := range m.risks {
		risks[pid] = make(map[uuid.UUID]domain.RiskView, len(rows))
		for k, v := range rows {
			risks[pid][k] = v
		}
	}
	coverages := make(map[uuid.UUID]map[uuid.UUID]domain.CoverageView, len(m.coverages))
	for pid, rows := range m.coverages {
		coverages[pid] = make(map[uuid.UUID]domain.CoverageView, len(rows))
		for k, v := range rows {
			coverages[pid][k] = v
		}
	}

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.policies, m.risks, m.coverages = policies, risks, coverages
	}
}

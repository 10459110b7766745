package repository

import (
	"context"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// TxRunner scopes a unit of work to one transaction. fn receives the
// transaction handle; the transaction is committed when fn returns nil and
// rolled back on error or panic.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, db DBTX) error) error
}

// EventStore provides access to the append-only event_store table.
type EventStore interface {
	// GetEvents returns events with version > afterVersion in version order.
	GetEvents(ctx context.Context, db DBTX, aggregateID uuid.UUID, afterVersion int) ([]domain.Event, error)

	// AppendEvents writes one aggregate's batch if the persisted version still
	// equals expectedVersion. Lost races surface as *domain.ConcurrencyConflictError.
	AppendEvents(ctx context.Context, db DBTX, events []domain.Event, expectedVersion int) error

	// CurrentVersion returns the highest persisted version, 0 when none.
	CurrentVersion(ctx context.Context, db DBTX, aggregateID uuid.UUID) (int, error)

	// ListAggregateIDs returns every aggregate id of a type, ordered by id.
	ListAggregateIDs(ctx context.Context, db DBTX, aggregateType domain.AggregateType) ([]uuid.UUID, error)
}

// SnapshotStore provides access to event_store_snapshots.
type SnapshotStore interface {
	// GetSnapshot returns nil when the aggregate has no snapshot.
	GetSnapshot(ctx context.Context, db DBTX, aggregateID uuid.UUID) (*domain.Snapshot, error)

	// SaveSnapshot upserts; the last write wins.
	SaveSnapshot(ctx context.Context, db DBTX, snap domain.Snapshot) error
}

// OutboxRecord is an outbox row with its sequence id.
type OutboxRecord struct {
	SeqID int64
	domain.OutboxDraft
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox row in the same transaction as the event append.
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// FetchUnpublished returns the oldest unpublished rows.
	FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]OutboxRecord, error)

	// MarkPublished stamps rows as published.
	MarkPublished(ctx context.Context, db DBTX, ids []int64) error
}

// PolicyReadModel provides access to the policies, policy_risks and
// policy_coverages tables. Only the projection writes to it.
type PolicyReadModel interface {
	InsertPolicy(ctx context.Context, db DBTX, row domain.PolicyView) error
	UpdatePolicy(ctx context.Context, db DBTX, id uuid.UUID, patch domain.PolicyPatch) error
	InsertRisk(ctx context.Context, db DBTX, row domain.RiskView) error
	DeleteRisk(ctx context.Context, db DBTX, policyID, riskID uuid.UUID) error
	InsertCoverage(ctx context.Context, db DBTX, row domain.CoverageView) error
	DeleteCoverage(ctx context.Context, db DBTX, policyID, coverageID uuid.UUID) error

	// DeletePolicy removes children before the parent row.
	DeletePolicy(ctx context.Context, db DBTX, id uuid.UUID) error

	// FindByID returns nil when the policy has no row.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.PolicyView, error)
	FindByPolicyNumber(ctx context.Context, db DBTX, policyNumber string) (*domain.PolicyView, error)
	ListByAccount(ctx context.Context, db DBTX, accountID string) ([]domain.PolicyView, error)
	ListRisks(ctx context.Context, db DBTX, policyID uuid.UUID) ([]domain.RiskView, error)
	ListCoverages(ctx context.Context, db DBTX, policyID uuid.UUID) ([]domain.CoverageView, error)
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type snapshotStore struct{}

// NewSnapshotStore returns a pgx-backed SnapshotStore.
func NewSnapshotStore() SnapshotStore {
	return &snapshotStore{}
}

func (r *snapshotStore) GetSnapshot(ctx context.Context, db DBTX, aggregateID uuid.UUID) (*domain.Snapshot, error) {
	var (
		s       domain.Snapshot
		aggType string
		state   []byte
	)
	err := db.QueryRow(ctx, `
		SELECT aggregate_id, aggregate_type, version, state, created_at
		FROM event_store_snapshots
		WHERE aggregate_id = $1`, aggregateID).
		Scan(&s.AggregateID, &aggType, &s.Version, &state, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	s.AggregateType = domain.AggregateType(aggType)
	s.State = state
	return &s, nil
}

func (r *snapshotStore) SaveSnapshot(ctx context.Context, db DBTX, snap domain.Snapshot) error {
	_, err := db.Exec(ctx, `
		INSERT INTO event_store_snapshots (aggregate_id, aggregate_type, version, state, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (aggregate_id) DO UPDATE
		SET aggregate_type = EXCLUDED.aggregate_type,
		    version = EXCLUDED.version,
		    state = EXCLUDED.state,
		    created_at = EXCLUDED.created_at`,
		snap.AggregateID, string(snap.AggregateType), snap.Version, []byte(snap.State))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

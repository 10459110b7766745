package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/google/uuid"
)

type eventStore struct{}

// NewEventStore returns a pgx-backed EventStore.
func NewEventStore() EventStore {
	return &eventStore{}
}

func (r *eventStore) GetEvents(ctx context.Context, db DBTX, aggregateID uuid.UUID, afterVersion int) ([]domain.Event, error) {
	rows, err := db.Query(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, version, payload, metadata
		FROM event_store
		WHERE aggregate_id = $1 AND version > $2
		ORDER BY version ASC`, aggregateID, afterVersion)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			e         domain.Event
			aggType   string
			eventType string
			payload   []byte
			metadata  []byte
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &aggType, &eventType, &e.Version, &payload, &metadata); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.AggregateType = domain.AggregateType(aggType)
		e.Payload, err = domain.DecodePayload(domain.EventType(eventType), payload)
		if err != nil {
			return nil, fmt.Errorf("event %s v%d: %w", e.AggregateID, e.Version, err)
		}
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s v%d: %w", e.AggregateID, e.Version, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *eventStore) AppendEvents(ctx context.Context, db DBTX, events []domain.Event, expectedVersion int) error {
	if len(events) == 0 {
		return nil
	}
	aggregateID := events[0].AggregateID
	for i, e := range events {
		if e.AggregateID != aggregateID {
			return fmt.Errorf("append events: batch mixes aggregates %s and %s", aggregateID, e.AggregateID)
		}
		if e.Version != expectedVersion+i+1 {
			return fmt.Errorf("append events: %s version %d does not follow %d", aggregateID, e.Version, expectedVersion+i)
		}
	}

	actual, err := r.CurrentVersion(ctx, db, aggregateID)
	if err != nil {
		return err
	}
	if actual != expectedVersion {
		return &domain.ConcurrencyConflictError{AggregateID: aggregateID, Expected: expectedVersion, Actual: actual}
	}

	const cols = 7
	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)
	for i, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", e.Type(), err)
		}
		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal %s metadata: %w", e.Type(), err)
		}
		n := i * cols
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7))
		args = append(args, e.ID, e.AggregateID, string(e.AggregateType), string(e.Type()), e.Version, payload, metadata)
	}

	_, err = db.Exec(ctx, `
		INSERT INTO event_store (id, aggregate_id, aggregate_type, event_type, version, payload, metadata)
		VALUES `+strings.Join(values, ", "), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ConcurrencyConflictError{AggregateID: aggregateID, Expected: expectedVersion, Actual: domain.UnknownVersion}
		}
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

func (r *eventStore) CurrentVersion(ctx context.Context, db DBTX, aggregateID uuid.UUID) (int, error) {
	var v int
	err := db.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM event_store WHERE aggregate_id = $1`, aggregateID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read current version: %w", err)
	}
	return v, nil
}

func (r *eventStore) ListAggregateIDs(ctx context.Context, db DBTX, aggregateType domain.AggregateType) ([]uuid.UUID, error) {
	rows, err := db.Query(ctx, `
		SELECT DISTINCT aggregate_id FROM event_store
		WHERE aggregate_type = $1
		ORDER BY aggregate_id`, string(aggregateType))
	if err != nil {
		return nil, fmt.Errorf("list aggregate ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan aggregate id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Package repositorytest provides in-memory stores and a rollback-capable
// transaction runner for unit tests above the repository layer.
package repositorytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/repository"
	"github.com/google/uuid"
)

// Checkpointer is implemented by in-memory stores that can be rolled back.
type Checkpointer interface {
	Checkpoint() (restore func())
}

// TxRunner runs one transaction at a time over in-memory stores. On error
// every registered store is restored to its state before the transaction.
type TxRunner struct {
	mu    sync.Mutex
	parts []Checkpointer

	// FailWith, when set, is consulted before fn runs; a non-nil error aborts
	// the attempt. attempt counts from 1.
	FailWith func(attempt int) error

	Attempts  int
	Commits   int
	Rollbacks int
}

var _ repository.TxRunner = (*TxRunner)(nil)

// NewTxRunner registers the stores a transaction covers.
func NewTxRunner(parts ...Checkpointer) *TxRunner {
	return &TxRunner{parts: parts}
}

func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context, db repository.DBTX) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	r.Attempts++

	restores := make([]func(), 0, len(r.parts))
	for _, p := range r.parts {
		restores = append(restores, p.Checkpoint())
	}
	rollback := func(err error) error {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		r.Rollbacks++
		return err
	}

	if r.FailWith != nil {
		if err := r.FailWith(r.Attempts); err != nil {
			return rollback(err)
		}
	}
	if err := fn(ctx, nil); err != nil {
		return rollback(err)
	}
	if err := ctx.Err(); err != nil {
		return rollback(err)
	}
	r.Commits++
	return nil
}

// EventStore is an in-memory repository.EventStore with the same version
// rules as the Postgres one.
type EventStore struct {
	mu     sync.Mutex
	events map[uuid.UUID][]domain.Event
}

var _ repository.EventStore = (*EventStore)(nil)

func NewEventStore() *EventStore {
	return &EventStore{events: make(map[uuid.UUID][]domain.Event)}
}

func (s *EventStore) Checkpoint() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := make(map[uuid.UUID][]domain.Event, len(s.events))
	for id, es := range s.events {
		saved[id] = append([]domain.Event(nil), es...)
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.events = saved
	}
}

func (s *EventStore) GetEvents(_ context.Context, _ repository.DBTX, aggregateID uuid.UUID, afterVersion int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events[aggregateID] {
		if e.Version > afterVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *EventStore) AppendEvents(_ context.Context, _ repository.DBTX, events []domain.Event, expectedVersion int) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := events[0].AggregateID
	for i, e := range events {
		if e.AggregateID != id {
			return fmt.Errorf("append events: batch mixes aggregates %s and %s", id, e.AggregateID)
		}
		if e.Version != expectedVersion+i+1 {
			return fmt.Errorf("append events: %s version %d does not follow %d", id, e.Version, expectedVersion+i)
		}
	}
	if actual := len(s.events[id]); actual != expectedVersion {
		return &domain.ConcurrencyConflictError{AggregateID: id, Expected: expectedVersion, Actual: actual}
	}
	s.events[id] = append(s.events[id], events...)
	return nil
}

func (s *EventStore) CurrentVersion(_ context.Context, _ repository.DBTX, aggregateID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events[aggregateID]), nil
}

func (s *EventStore) ListAggregateIDs(_ context.Context, _ repository.DBTX, aggregateType domain.AggregateType) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, es := range s.events {
		if len(es) > 0 && es[0].AggregateType == aggregateType {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// Put seeds history directly, bypassing version checks. Tests use it to
// plant gaps and other corruption.
func (s *EventStore) Put(events ...domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.events[e.AggregateID] = append(s.events[e.AggregateID], e)
	}
}

// SnapshotStore is an in-memory repository.SnapshotStore.
type SnapshotStore struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]domain.Snapshot
}

var _ repository.SnapshotStore = (*SnapshotStore)(nil)

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[uuid.UUID]domain.Snapshot)}
}

func (s *SnapshotStore) Checkpoint() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := make(map[uuid.UUID]domain.Snapshot, len(s.snapshots))
	for id, snap := range s.snapshots {
		saved[id] = snap
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.snapshots = saved
	}
}

func (s *SnapshotStore) GetSnapshot(_ context.Context, _ repository.DBTX, aggregateID uuid.UUID) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *SnapshotStore) SaveSnapshot(_ context.Context, _ repository.DBTX, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	s.snapshots[snap.AggregateID] = snap
	return nil
}

// Outbox is an in-memory repository.OutboxRepository.
type Outbox struct {
	mu        sync.Mutex
	seq       int64
	rows      []repository.OutboxRecord
	published map[int64]bool
}

var _ repository.OutboxRepository = (*Outbox)(nil)

func NewOutbox() *Outbox {
	return &Outbox{published: make(map[int64]bool)}
}

func (o *Outbox) Checkpoint() func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	seq := o.seq
	rows := append([]repository.OutboxRecord(nil), o.rows...)
	published := make(map[int64]bool, len(o.published))
	for k, v := range o.published {
		published[k] = v
	}
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.seq, o.rows, o.published = seq, rows, published
	}
}

func (o *Outbox) Insert(_ context.Context, _ repository.DBTX, draft domain.OutboxDraft) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.rows {
		if r.EventID == draft.EventID {
			return fmt.Errorf("insert outbox event: %s already exists", draft.EventID)
		}
	}
	o.seq++
	o.rows = append(o.rows, repository.OutboxRecord{SeqID: o.seq, OutboxDraft: draft})
	return nil
}

func (o *Outbox) FetchUnpublished(_ context.Context, _ repository.DBTX, limit int) ([]repository.OutboxRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []repository.OutboxRecord
	for _, r := range o.rows {
		if len(out) == limit {
			break
		}
		if !o.published[r.SeqID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (o *Outbox) MarkPublished(_ context.Context, _ repository.DBTX, ids []int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range ids {
		o.published[id] = true
	}
	return nil
}

// Rows returns every row in insertion order.
func (o *Outbox) Rows() []repository.OutboxRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]repository.OutboxRecord(nil), o.rows...)
}

// Published reports whether a row has been marked published.
func (o *Outbox) Published(seqID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.published[seqID]
}

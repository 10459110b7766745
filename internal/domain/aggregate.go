package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Aggregate is what the coordinator needs from an event-sourced entity.
type Aggregate interface {
	AggregateID() uuid.UUID
	AggregateType() AggregateType
	Version() int
	UncommittedEvents() []Event
	ClearUncommittedEvents()
}

// ExpectedVersion is the version the aggregate believed was persisted before
// its pending batch.
func ExpectedVersion(a Aggregate) int {
	return a.Version() - len(a.UncommittedEvents())
}

// Clock returns the timestamp stamped on raised events.
type Clock func() time.Time

// SystemClock truncates to microseconds, the resolution Postgres stores.
func SystemClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Root carries the identity, version and pending-event buffer shared by
// every aggregate. Entity types embed it and supply their fold as a Visitor.
type Root struct {
	id          uuid.UUID
	typ         AggregateType
	version     int
	uncommitted []Event
	clock       Clock
}

// NewRoot returns an empty root at version 0.
func NewRoot(id uuid.UUID, typ AggregateType) Root {
	return Root{id: id, typ: typ, clock: SystemClock}
}

func (r *Root) AggregateID() uuid.UUID       { return r.id }
func (r *Root) AggregateType() AggregateType { return r.typ }
func (r *Root) Version() int                 { return r.version }

// UncommittedEvents returns a copy of the events raised since the last commit.
func (r *Root) UncommittedEvents() []Event {
	out := make([]Event, len(r.uncommitted))
	copy(out, r.uncommitted)
	return out
}

func (r *Root) ClearUncommittedEvents() { r.uncommitted = nil }

// SetClock overrides the event timestamp source.
func (r *Root) SetClock(c Clock) {
	if c != nil {
		r.clock = c
	}
}

// Raise builds the next event, folds it and queues it for commit. When the
// fold fails nothing is recorded and the version does not move.
func (r *Root) Raise(fold Visitor, p Payload, meta CommandMetadata) error {
	e := Event{
		ID:            uuid.New(),
		AggregateID:   r.id,
		AggregateType: r.typ,
		Version:       r.version + 1,
		Payload:       p,
		Metadata: Metadata{
			CorrelationID: meta.CorrelationID,
			CausationID:   meta.CausationID,
			Actor:         meta.Actor,
			Timestamp:     r.clock(),
		},
	}
	if err := Visit(fold, e); err != nil {
		return err
	}
	r.version = e.Version
	r.uncommitted = append(r.uncommitted, e)
	return nil
}

// Replay folds persisted history without legality checks and without
// touching the pending buffer. Events must belong to this aggregate and
// continue its version sequence.
func (r *Root) Replay(fold Visitor, events []Event) error {
	for _, e := range events {
		if e.AggregateID != r.id {
			return fmt.Errorf("replay: event %s belongs to aggregate %s, not %s", e.ID, e.AggregateID, r.id)
		}
		if e.Version != r.version+1 {
			return fmt.Errorf("replay: aggregate %s expected version %d, got %d", r.id, r.version+1, e.Version)
		}
		if err := Visit(fold, e); err != nil {
			return fmt.Errorf("replay %s v%d: %w", e.Type(), e.Version, err)
		}
		r.version = e.Version
	}
	return nil
}

// Restore positions the root at a snapshot version before replaying the tail.
func (r *Root) Restore(version int) {
	r.version = version
	r.uncommitted = nil
}

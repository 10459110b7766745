package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AggregateType enumerates the aggregate root types stored in the event log.
type AggregateType string

const (
	AggregatePolicy AggregateType = "Policy"
)

// ActorType identifies who issued a command.
type ActorType string

const (
	ActorAgent  ActorType = "agent"
	ActorHuman  ActorType = "human"
	ActorSystem ActorType = "system"
)

// Actor is the principal behind an event.
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id"`
	Name string    `json:"name"`
}

// CommandMetadata is supplied by callers with every command. The timestamp is
// assigned when the event is raised.
type CommandMetadata struct {
	CorrelationID string
	CausationID   string
	Actor         Actor
}

// Metadata travels with every persisted event.
type Metadata struct {
	CorrelationID string    `json:"correlationId"`
	CausationID   string    `json:"causationId,omitempty"`
	Actor         Actor     `json:"actor"`
	Timestamp     time.Time `json:"timestamp"`
}

// Event is one immutable fact in an aggregate's history.
type Event struct {
	ID            uuid.UUID
	AggregateID   uuid.UUID
	AggregateType AggregateType
	Version       int
	Payload       Payload
	Metadata      Metadata
}

// Type returns the discriminator of the event's payload.
func (e Event) Type() EventType {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventType()
}

// OutboxDraft is the row written to the event_outbox table for every
// committed event.
type OutboxDraft struct {
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	Version       int             `json:"version"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// NewOutboxDraft converts a committed event into its outbox row.
func NewOutboxDraft(e Event) (OutboxDraft, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return OutboxDraft{}, fmt.Errorf("marshal %s payload: %w", e.Type(), err)
	}
	headers, err := json.Marshal(map[string]string{
		"correlation_id": e.Metadata.CorrelationID,
		"causation_id":   e.Metadata.CausationID,
		"actor_type":     string(e.Metadata.Actor.Type),
		"actor_id":       e.Metadata.Actor.ID,
	})
	if err != nil {
		return OutboxDraft{}, fmt.Errorf("marshal outbox headers: %w", err)
	}
	return OutboxDraft{
		EventID:       e.ID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID.String(),
		EventType:     e.Type(),
		Version:       e.Version,
		PartitionKey:  e.AggregateID.String(),
		Headers:       headers,
		Payload:       payload,
		OccurredAt:    e.Metadata.Timestamp,
	}, nil
}

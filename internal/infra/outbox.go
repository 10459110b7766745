package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/agenticcore/platform/internal/metrics"
	"github.com/agenticcore/platform/internal/repository"
	"github.com/google/uuid"
)

// OutboxRelay polls the event_outbox table and publishes rows to Kafka.
// Rows are marked published only after the broker accepted them, so a crash
// between the two steps republishes rather than loses.
type OutboxRelay struct {
	db          repository.DBTX
	outbox      repository.OutboxRepository
	publisher   Publisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	topicPrefix string
	now         func() time.Time
}

// NewOutboxRelay creates a relay using the poll settings from cfg.
func NewOutboxRelay(db repository.DBTX, outbox repository.OutboxRepository, publisher Publisher,
	m *metrics.Metrics, cfg *Config, logger *slog.Logger) *OutboxRelay {
	return &OutboxRelay{
		db:          db,
		outbox:      outbox,
		publisher:   publisher,
		metrics:     m,
		logger:      logger,
		interval:    cfg.OutboxPollInterval,
		batchSize:   cfg.OutboxBatchSize,
		topicPrefix: cfg.KafkaTopicPrefix,
		now:         time.Now,
	}
}

// Run polls until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay started", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.PollOnce(ctx); err != nil {
				r.logger.Error("outbox poll error", "error", err)
			}
		}
	}
}

// outboxEnvelope is the Kafka message value.
type outboxEnvelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Version       int             `json:"version"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// PollOnce publishes one batch and returns how many rows were marked
// published. After a failed publish, later rows of the same aggregate are
// held back so consumers never see versions out of order.
func (r *OutboxRelay) PollOnce(ctx context.Context) (int, error) {
	rows, err := r.outbox.FetchUnpublished(ctx, r.db, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	if len(rows) == 0 {
		r.observeLag(0)
		return 0, nil
	}
	r.observeLag(r.now().Sub(rows[0].OccurredAt))

	blocked := make(map[string]bool)
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		if blocked[row.PartitionKey] {
			continue
		}
		msg, err := r.message(row)
		if err == nil {
			err = r.publisher.Publish(ctx, msg)
		}
		if err != nil {
			blocked[row.PartitionKey] = true
			if r.metrics != nil {
				r.metrics.OutboxFailures.Inc()
			}
			r.logger.Error("outbox publish failed",
				"seq_id", row.SeqID,
				"event_id", row.EventID,
				"event_type", row.EventType,
				"aggregate_id", row.AggregateID,
				"error", err,
			)
			continue
		}
		ids = append(ids, row.SeqID)
	}

	if len(ids) == 0 {
		return 0, nil
	}
	if err := r.outbox.MarkPublished(ctx, r.db, ids); err != nil {
		return 0, fmt.Errorf("mark published: %w", err)
	}
	if r.metrics != nil {
		r.metrics.OutboxPublished.Add(float64(len(ids)))
	}
	r.logger.Debug("outbox batch published", "count", len(ids), "held_back", len(rows)-len(ids))
	return len(ids), nil
}

// Topic returns the Kafka topic for an event type.
func (r *OutboxRelay) Topic(eventType string) string {
	return r.topicPrefix + eventType
}

func (r *OutboxRelay) message(row repository.OutboxRecord) (Message, error) {
	value, err := json.Marshal(outboxEnvelope{
		EventID:       row.EventID,
		AggregateType: string(row.AggregateType),
		AggregateID:   row.AggregateID,
		EventType:     string(row.EventType),
		Version:       row.Version,
		Payload:       row.Payload,
		OccurredAt:    row.OccurredAt,
	})
	if err != nil {
		return Message{}, fmt.Errorf("marshal envelope: %w", err)
	}

	headers := map[string]string{}
	if len(row.Headers) > 0 {
		if err := json.Unmarshal(row.Headers, &headers); err != nil {
			return Message{}, fmt.Errorf("decode headers: %w", err)
		}
	}
	headers["event_type"] = string(row.EventType)

	return Message{
		Topic:   r.Topic(string(row.EventType)),
		Key:     []byte(row.PartitionKey),
		Value:   value,
		Headers: headers,
	}, nil
}

func (r *OutboxRelay) observeLag(d time.Duration) {
	if r.metrics == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	r.metrics.OutboxLag.Set(d.Seconds())
}

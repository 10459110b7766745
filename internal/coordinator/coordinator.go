// Package coordinator persists aggregate changes: the event append, the read
// model projection, the outbox rows and any due snapshot commit together or
// not at all.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/metrics"
	"github.com/agenticcore/platform/internal/projection"
	"github.com/agenticcore/platform/internal/repository"
)

// DefaultSnapshotInterval is how many versions pass between snapshots.
const DefaultSnapshotInterval = 10

// Snapshotter is implemented by aggregates whose folded state can be stored.
type Snapshotter interface {
	domain.Aggregate
	ToSnapshot() (json.RawMessage, error)
}

// Options tunes commit behaviour. Zero MaxAttempts and Backoff fall back to
// defaults.
type Options struct {
	// SnapshotInterval is the version stride between snapshots; zero
	// disables snapshots.
	SnapshotInterval int
	// MaxAttempts bounds tries on transient storage failures.
	MaxAttempts int
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 50 * time.Millisecond
	}
	return o
}

// Coordinator owns the write path for event-sourced aggregates.
type Coordinator struct {
	tx         repository.TxRunner
	events     repository.EventStore
	snapshots  repository.SnapshotStore
	outbox     repository.OutboxRepository
	projection *projection.Projection
	cache      projection.Store
	metrics    *metrics.Metrics
	logger     *slog.Logger
	opts       Options
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a coordinator. cache and m may be nil.
func New(
	tx repository.TxRunner,
	events repository.EventStore,
	snapshots repository.SnapshotStore,
	outbox repository.OutboxRepository,
	proj *projection.Projection,
	cache projection.Store,
	m *metrics.Metrics,
	logger *slog.Logger,
	opts Options,
) *Coordinator {
	return &Coordinator{
		tx:         tx,
		events:     events,
		snapshots:  snapshots,
		outbox:     outbox,
		projection: proj,
		cache:      cache,
		metrics:    m,
		logger:     logger,
		opts:       opts.withDefaults(),
		sleep:      sleepCtx,
	}
}

// Commit persists agg's uncommitted events and clears its buffer. On any
// error the buffer is left intact and nothing is persisted.
//
// Transient storage failures are retried with exponential backoff. Concurrency
// conflicts and domain errors are returned to the caller unchanged.
func (c *Coordinator) Commit(ctx context.Context, agg domain.Aggregate) error {
	events := agg.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}
	expected := domain.ExpectedVersion(agg)

	var snap *domain.Snapshot
	if c.snapshotDue(expected, agg.Version()) {
		s, ok := agg.(Snapshotter)
		if ok {
			state, err := s.ToSnapshot()
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", agg.AggregateID(), err)
			}
			snap = &domain.Snapshot{
				AggregateID:   agg.AggregateID(),
				AggregateType: agg.AggregateType(),
				Version:       agg.Version(),
				State:         state,
			}
		}
	}

	drafts := make([]domain.OutboxDraft, 0, len(events))
	for _, e := range events {
		d, err := domain.NewOutboxDraft(e)
		if err != nil {
			return err
		}
		drafts = append(drafts, d)
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		err := c.tx.InTx(ctx, func(ctx context.Context, db repository.DBTX) error {
			return c.write(ctx, db, events, expected, drafts, snap)
		})
		if err == nil {
			break
		}
		if domain.IsConcurrencyConflict(err) && c.metrics != nil {
			c.metrics.IncrementConflict()
		}
		if !repository.IsTransient(err) || attempt >= c.opts.MaxAttempts {
			return err
		}

		delay := c.opts.Backoff << (attempt - 1)
		c.logger.Warn("commit failed, retrying",
			"aggregate_id", agg.AggregateID(),
			"attempt", attempt,
			"backoff", delay,
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.CommitRetries.Inc()
		}
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}

	if c.metrics != nil {
		c.metrics.ObserveCommit(start)
		for _, e := range events {
			c.metrics.IncrementEventsAppended(string(e.Type()))
		}
		if snap != nil {
			c.metrics.SnapshotsSaved.Inc()
		}
	}
	agg.ClearUncommittedEvents()

	if c.cache != nil {
		if err := projection.InvalidateSummary(ctx, c.cache, agg.AggregateID()); err != nil {
			c.logger.Warn("summary cache invalidation failed", "aggregate_id", agg.AggregateID(), "error", err)
		}
	}

	c.logger.Debug("events committed",
		"aggregate_id", agg.AggregateID(),
		"from_version", expected+1,
		"to_version", agg.Version(),
		"count", len(events),
	)
	return nil
}

// write is the body of the commit transaction.
func (c *Coordinator) write(ctx context.Context, db repository.DBTX, events []domain.Event, expected int,
	drafts []domain.OutboxDraft, snap *domain.Snapshot) error {
	// Step 1: Append with the optimistic version check
	if err := c.events.AppendEvents(ctx, db, events, expected); err != nil {
		return err
	}

	// Step 2: Project into the read model
	if err := c.projection.HandleEvents(ctx, db, events); err != nil {
		return fmt.Errorf("project events: %w", err)
	}

	// Step 3: Outbox rows for the relay
	for _, d := range drafts {
		if err := c.outbox.Insert(ctx, db, d); err != nil {
			return err
		}
	}

	// Step 4: Snapshot when a boundary was crossed
	if snap != nil {
		if err := c.snapshots.SaveSnapshot(ctx, db, *snap); err != nil {
			return err
		}
	}
	return nil
}

// snapshotDue reports whether moving from version `from` to `to` crosses a
// multiple of the snapshot interval.
func (c *Coordinator) snapshotDue(from, to int) bool {
	n := c.opts.SnapshotInterval
	if n <= 0 {
		return false
	}
	return from/n != to/n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

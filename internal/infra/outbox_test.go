package infra

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/metrics"
	"github.com/agenticcore/platform/internal/policy/policytest"
	"github.com/agenticcore/platform/internal/repository/repositorytest"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	sent []Message
	fail func(Message) error
}

func (p *recordingPublisher) Publish(_ context.Context, msgs ...Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		if p.fail != nil {
			if err := p.fail(m); err != nil {
				return err
			}
		}
		p.sent = append(p.sent, m)
	}
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func testRelay(t *testing.T, outbox *repositorytest.Outbox, pub Publisher) (*OutboxRelay, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	cfg := &Config{
		OutboxPollInterval: 10 * time.Millisecond,
		OutboxBatchSize:    100,
		KafkaTopicPrefix:   "agenticcore.policy.",
	}
	relay := NewOutboxRelay(nil, outbox, pub, m, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return relay, m
}

func seedOutbox(t *testing.T, outbox *repositorytest.Outbox, events []domain.Event) {
	t.Helper()
	for _, e := range events {
		d, err := domain.NewOutboxDraft(e)
		require.NoError(t, err)
		require.NoError(t, outbox.Insert(context.Background(), nil, d))
	}
}

func TestOutboxRelay_PublishesInOrder(t *testing.T) {
	outbox := repositorytest.NewOutbox()
	p := policytest.Draft(uuid.New())
	require.NoError(t, p.Submit(policytest.Meta))
	seedOutbox(t, outbox, p.UncommittedEvents())

	pub := &recordingPublisher{}
	relay, m := testRelay(t, outbox, pub)
	relay.now = func() time.Time { return time.Date(2026, 1, 15, 9, 0, 30, 0, time.UTC) }

	n, err := relay.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, pub.sent, 2)
	assert.Equal(t, "agenticcore.policy.SubmissionCreated", pub.sent[0].Topic)
	assert.Equal(t, "agenticcore.policy.Submitted", pub.sent[1].Topic)
	assert.Equal(t, []byte(p.AggregateID().String()), pub.sent[0].Key)
	assert.Equal(t, "SubmissionCreated", pub.sent[0].Headers["event_type"])
	assert.Equal(t, "test-correlation", pub.sent[0].Headers["correlation_id"])

	var env outboxEnvelope
	require.NoError(t, json.Unmarshal(pub.sent[1].Value, &env))
	assert.Equal(t, 2, env.Version)
	assert.Equal(t, "Policy", env.AggregateType)
	assert.Equal(t, p.AggregateID().String(), env.AggregateID)

	for _, r := range outbox.Rows() {
		assert.True(t, outbox.Published(r.SeqID))
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxPublished))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.OutboxLag))

	n, err = relay.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, pub.sent, 2)
}

func TestOutboxRelay_FailureHoldsBackSameAggregate(t *testing.T) {
	outbox := repositorytest.NewOutbox()
	failing := policytest.Draft(uuid.New())
	require.NoError(t, failing.Submit(policytest.Meta))
	healthy := policytest.Draft(uuid.New())
	require.NoError(t, healthy.Submit(policytest.Meta))

	// Interleave the two aggregates.
	fe, he := failing.UncommittedEvents(), healthy.UncommittedEvents()
	seedOutbox(t, outbox, []domain.Event{fe[0], he[0], fe[1], he[1]})

	broken := true
	pub := &recordingPublisher{fail: func(m Message) error {
		if broken && string(m.Key) == failing.AggregateID().String() {
			return errors.New("broker unavailable")
		}
		return nil
	}}
	relay, m := testRelay(t, outbox, pub)

	n, err := relay.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxFailures), "the second row is skipped, not attempted")
	for _, msg := range pub.sent {
		assert.Equal(t, healthy.AggregateID().String(), string(msg.Key))
	}

	broken = false
	n, err = relay.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.sent, 4)
	assert.Equal(t, "agenticcore.policy.SubmissionCreated", pub.sent[2].Topic)
	assert.Equal(t, "agenticcore.policy.Submitted", pub.sent[3].Topic)
}

func TestOutboxRelay_RunStopsOnCancel(t *testing.T) {
	outbox := repositorytest.NewOutbox()
	seedOutbox(t, outbox, policytest.Draft(uuid.New()).UncommittedEvents())
	pub := &recordingPublisher{}
	relay, _ := testRelay(t, outbox, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		return outbox.Published(outbox.Rows()[0].SeqID)
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestOutboxRelay_Topic(t *testing.T) {
	relay, _ := testRelay(t, repositorytest.NewOutbox(), &recordingPublisher{})
	assert.Equal(t, "agenticcore.policy.PolicyBound", relay.Topic("PolicyBound"))
}

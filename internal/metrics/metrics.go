// Package metrics holds the Prometheus collectors for the policy core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics provides observability for command handling, the event store
// commit path and the outbox relay.
type Metrics struct {
	CommandsTotal        *prometheus.CounterVec
	CommandDuration      *prometheus.HistogramVec
	ConcurrencyConflicts prometheus.Counter
	EventsAppended       *prometheus.CounterVec
	CommitDuration       prometheus.Histogram
	CommitRetries        prometheus.Counter
	SnapshotsSaved       prometheus.Counter
	OutboxPublished      prometheus.Counter
	OutboxFailures       prometheus.Counter
	OutboxLag            prometheus.Gauge
	ReconcileViolations  *prometheus.CounterVec
	CacheLookups         *prometheus.CounterVec
}

// New registers every collector with reg. Pass prometheus.DefaultRegisterer
// in binaries and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CommandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agenticcore_policy_commands_total",
			Help: "Policy commands handled, by command and outcome",
		}, []string{"command", "outcome"}),
		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agenticcore_policy_command_duration_seconds",
			Help:    "Duration of policy commands including hydration and commit",
			Buckets: durationBuckets,
		}, []string{"command"}),
		ConcurrencyConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "agenticcore_event_store_concurrency_conflicts_total",
			Help: "Appends rejected because the aggregate version moved",
		}),
		EventsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agenticcore_event_store_events_appended_total",
			Help: "Events committed to the event store, by event type",
		}, []string{"event_type"}),
		CommitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agenticcore_event_store_commit_duration_seconds",
			Help:    "Duration of the append, project and outbox transaction",
			Buckets: durationBuckets,
		}),
		CommitRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "agenticcore_event_store_commit_retries_total",
			Help: "Commit attempts retried after a transient storage failure",
		}),
		SnapshotsSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "agenticcore_event_store_snapshots_saved_total",
			Help: "Aggregate snapshots written",
		}),
		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "agenticcore_outbox_published_total",
			Help: "Outbox rows published to Kafka",
		}),
		OutboxFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "agenticcore_outbox_publish_failures_total",
			Help: "Outbox rows that failed to publish",
		}),
		OutboxLag: f.NewGauge(prometheus.GaugeOpts{
			Name: "agenticcore_outbox_lag_seconds",
			Help: "Age of the oldest row in the last fetched outbox batch",
		}),
		ReconcileViolations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agenticcore_reconcile_violations_total",
			Help: "Invariant violations found by reconciliation, by invariant",
		}, []string{"invariant"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agenticcore_summary_cache_lookups_total",
			Help: "Policy summary cache lookups, by result",
		}, []string{"result"}),
	}
}

// ObserveCommand records a command outcome and its duration.
// Call with time.Now() at the start of the command.
func (m *Metrics) ObserveCommand(command, outcome string, start time.Time) {
	m.CommandsTotal.WithLabelValues(command, outcome).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
}

// ObserveCommit records the duration of a commit transaction.
func (m *Metrics) ObserveCommit(start time.Time) {
	m.CommitDuration.Observe(time.Since(start).Seconds())
}

// IncrementEventsAppended counts one committed event.
func (m *Metrics) IncrementEventsAppended(eventType string) {
	m.EventsAppended.WithLabelValues(eventType).Inc()
}

// IncrementConflict counts one lost optimistic-concurrency race.
func (m *Metrics) IncrementConflict() {
	m.ConcurrencyConflicts.Inc()
}

// IncrementCacheLookup counts a summary cache hit or miss.
func (m *Metrics) IncrementCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

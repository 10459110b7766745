package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agenticcore/platform/internal/coordinator"
	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/governance"
	"github.com/agenticcore/platform/internal/guard"
	"github.com/agenticcore/platform/internal/metrics"
	"github.com/agenticcore/platform/internal/policy"
	"github.com/agenticcore/platform/internal/projection"
	"github.com/agenticcore/platform/internal/rating"
	"github.com/agenticcore/platform/internal/repository"
	"github.com/google/uuid"
)

// Circuit breaker key for the rating pipeline.
const ratingCircuit = "rating"

// PolicyServiceDeps bundles the collaborators of a PolicyService. Cache and
// Metrics may be nil.
type PolicyServiceDeps struct {
	DB          repository.DBTX
	Events      repository.EventStore
	Snapshots   repository.SnapshotStore
	ReadModel   repository.PolicyReadModel
	Coordinator *coordinator.Coordinator
	Governance  governance.Checker
	Rating      rating.Pipeline
	Breaker     *guard.CircuitBreaker
	Cache       projection.Store
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// PolicyService runs policy commands: hydrate, governance pre-check, apply,
// commit. A lost optimistic race re-runs the whole cycle against fresh state.
type PolicyService struct {
	db          repository.DBTX
	events      repository.EventStore
	snapshots   repository.SnapshotStore
	readModel   repository.PolicyReadModel
	coordinator *coordinator.Coordinator
	governance  governance.Checker
	rating      rating.Pipeline
	breaker     *guard.CircuitBreaker
	cache       projection.Store
	metrics     *metrics.Metrics
	logger      *slog.Logger

	maxRetries int
	summaryTTL time.Duration

	newID     func() uuid.UUID
	newNumber func(prefix string) string
	clock     domain.Clock
}

// NewPolicyService creates a PolicyService. maxRetries bounds re-runs after
// a concurrency conflict; summaryTTL is how long read summaries stay cached.
func NewPolicyService(deps PolicyServiceDeps, maxRetries int, summaryTTL time.Duration) *PolicyService {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if summaryTTL <= 0 {
		summaryTTL = projection.DefaultSummaryTTL
	}
	return &PolicyService{
		db:          deps.DB,
		events:      deps.Events,
		snapshots:   deps.Snapshots,
		readModel:   deps.ReadModel,
		coordinator: deps.Coordinator,
		governance:  deps.Governance,
		rating:      deps.Rating,
		breaker:     deps.Breaker,
		cache:       deps.Cache,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		maxRetries:  maxRetries,
		summaryTTL:  summaryTTL,
		newID:       uuid.New,
		newNumber:   documentNumber,
		clock:       domain.SystemClock,
	}
}

// documentNumber returns a fresh number such as "POL-3F2A9C1B".
func documentNumber(prefix string) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + "-" + id[:8]
}

// Load hydrates a policy from its latest snapshot plus the events after it.
// A policy with no history is NOT_FOUND.
func (s *PolicyService) Load(ctx context.Context, id uuid.UUID) (*policy.Policy, error) {
	p, after, err := s.fromSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}

	events, err := s.events.GetEvents(ctx, s.db, id, after)
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", id, err)
	}
	if p == nil {
		if len(events) == 0 {
			return nil, domain.ErrNotFound("policy", id.String())
		}
		p = policy.New(id)
	}
	if err := p.LoadFromHistory(events); err != nil {
		return nil, fmt.Errorf("load policy %s: %w", id, err)
	}
	p.SetClock(s.clock)
	return p, nil
}

// fromSnapshot returns the snapshot-seeded policy and its version, or nil
// and zero when there is no usable snapshot. An undecodable snapshot falls
// back to full replay.
func (s *PolicyService) fromSnapshot(ctx context.Context, id uuid.UUID) (*policy.Policy, int, error) {
	if s.snapshots == nil {
		return nil, 0, nil
	}
	snap, err := s.snapshots.GetSnapshot(ctx, s.db, id)
	if err != nil {
		return nil, 0, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	if snap == nil {
		return nil, 0, nil
	}
	p, err := policy.FromSnapshot(id, snap.Version, snap.State)
	if err != nil {
		s.logger.Warn("discarding unreadable snapshot", "aggregate_id", id, "version", snap.Version, "error", err)
		return nil, 0, nil
	}
	return p, snap.Version, nil
}

// guardFunc builds the governance request for a hydrated policy. A nil
// guardFunc skips the pre-check.
type guardFunc func(p *policy.Policy) governance.Request

// execute runs one command against policy id. The governance pre-check runs
// once, against the first hydration; retries after a conflict re-hydrate and
// re-apply.
func (s *PolicyService) execute(ctx context.Context, command string, id uuid.UUID, meta domain.CommandMetadata,
	check guardFunc, apply func(p *policy.Policy) error) (p *policy.Policy, err error) {
	start := time.Now()
	defer func() { s.observe(command, start, err) }()

	checked := check == nil
	for attempt := 0; ; attempt++ {
		p, err = s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if !checked {
			if err = s.authorize(ctx, meta, check(p)); err != nil {
				return nil, err
			}
			checked = true
		}
		if err = apply(p); err != nil {
			return nil, err
		}

		err = s.coordinator.Commit(ctx, p)
		if err == nil {
			return p, nil
		}
		if !domain.IsConcurrencyConflict(err) || attempt >= s.maxRetries {
			return nil, err
		}
		s.logger.Info("concurrency conflict, retrying command",
			"command", command,
			"aggregate_id", id,
			"attempt", attempt+1,
			"error", err,
		)
	}
}

// authorize runs the governance pre-check. The request's agent comes from
// the command's actor.
func (s *PolicyService) authorize(ctx context.Context, meta domain.CommandMetadata, req governance.Request) error {
	req.AgentType = string(meta.Actor.Type)
	req.AgentID = meta.Actor.ID

	decision, err := s.governance.Check(ctx, req)
	if err != nil {
		return domain.ErrInternal("governance check", err)
	}
	if err := decision.Err(req.Action); err != nil {
		s.logger.Warn("governance denied action",
			"action", req.Action,
			"target", req.Target,
			"agent_id", req.AgentID,
			"decision", decision.Decision,
			"reasons", decision.BlockReasons,
		)
		return err
	}
	return nil
}

func (s *PolicyService) observe(command string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveCommand(command, outcome(err), start)
}

// outcome is the metrics label for a command result.
func outcome(err error) string {
	var (
		ist *domain.InvalidStateTransitionError
		cm  *domain.CurrencyMismatchError
		app *domain.AppError
	)
	switch {
	case err == nil:
		return "ok"
	case domain.IsConcurrencyConflict(err):
		return "conflict"
	case errors.As(err, &ist):
		return "invalid_transition"
	case errors.As(err, &cm):
		return "currency_mismatch"
	case errors.As(err, &app):
		return strings.ToLower(app.Code)
	default:
		return "error"
	}
}

// request is shorthand for a governance request on one policy.
func request(action string, id uuid.UUID) governance.Request {
	return governance.Request{Action: action, Target: id.String()}
}

func amountOf(m domain.Money) *domain.Money {
	return &m
}

// Package reconcile replays each policy's history and checks it against the
// read model and the snapshot store, repairing the read model on request.
// Runs are idempotent and safe to restart.
package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/metrics"
	"github.com/agenticcore/platform/internal/policy"
	"github.com/agenticcore/platform/internal/projection"
	"github.com/agenticcore/platform/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Invariant names.
const (
	VersionContiguity  = "version_contiguity"
	ProjectionPresent  = "projection_present"
	ProjectionVersion  = "projection_version"
	ProjectionState    = "projection_state"
	ProjectionChildren = "projection_children"
	SnapshotConsistent = "snapshot_consistent"
)

// InvariantCheck records a single invariant validation.
type InvariantCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Result holds the outcome of checking one aggregate.
type Result struct {
	AggregateID uuid.UUID        `json:"aggregate_id"`
	EventCount  int              `json:"event_count"`
	Version     int              `json:"version"`
	Invariants  []InvariantCheck `json:"invariants"`
	AllPassed   bool             `json:"all_passed"`
	Repaired    bool             `json:"repaired"`
	Err         error            `json:"-"`
}

// Failed returns the names of the invariants that did not hold.
func (r *Result) Failed() []string {
	var out []string
	for _, inv := range r.Invariants {
		if !inv.Passed {
			out = append(out, inv.Name)
		}
	}
	return out
}

func (r *Result) passed(name string) bool {
	for _, inv := range r.Invariants {
		if inv.Name == name {
			return inv.Passed
		}
	}
	return false
}

// Report summarises a RunAll pass.
type Report struct {
	Checked  int
	Failed   int
	Repaired int
	Errors   int
	Results  []*Result
}

// Reconciler checks policies one at a time or all at once.
type Reconciler struct {
	db          repository.DBTX
	tx          repository.TxRunner
	events      repository.EventStore
	snapshots   repository.SnapshotStore
	projection  *projection.Projection
	cache       projection.Store
	metrics     *metrics.Metrics
	logger      *slog.Logger
	concurrency int
}

// New creates a Reconciler. snapshots, cache and m may be nil; concurrency
// below one runs aggregates sequentially.
func New(
	db repository.DBTX,
	tx repository.TxRunner,
	events repository.EventStore,
	snapshots repository.SnapshotStore,
	proj *projection.Projection,
	cache projection.Store,
	m *metrics.Metrics,
	logger *slog.Logger,
	concurrency int,
) *Reconciler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Reconciler{
		db:          db,
		tx:          tx,
		events:      events,
		snapshots:   snapshots,
		projection:  proj,
		cache:       cache,
		metrics:     m,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Check replays one policy and validates its invariants:
//  1. Version contiguity: versions run 1..n with no gap or stray aggregate
//  2. Projection present: the read model has a row
//  3. Projection version: the row's version is the last event version
//  4. Projection state: status, premium, policy and quote numbers and the
//     expiration date match the fold
//  5. Projection children: risk and coverage rows match the fold in order
//  6. Snapshot consistent: any snapshot matches the fold at its version
func (r *Reconciler) Check(ctx context.Context, id uuid.UUID) (*Result, error) {
	events, err := r.events.GetEvents(ctx, r.db, id, 0)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: load events: %w", id, err)
	}
	if len(events) == 0 {
		return nil, domain.ErrNotFound("policy", id.String())
	}

	res := &Result{
		AggregateID: id,
		EventCount:  len(events),
		Version:     events[len(events)-1].Version,
	}

	contiguity := checkContiguity(id, events)
	res.Invariants = append(res.Invariants, contiguity)

	var folded *policy.Policy
	var foldErr error
	if contiguity.Passed {
		folded, foldErr = policy.LoadFromHistory(id, events)
	} else {
		foldErr = fmt.Errorf("history is not contiguous")
	}

	row, err := r.projection.ReadModel().FindByID(ctx, r.db, id)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: load projection: %w", id, err)
	}
	res.Invariants = append(res.Invariants, checkProjection(row, res.Version, folded, foldErr)...)

	children, err := r.checkChildren(ctx, id, row, folded, foldErr)
	if err != nil {
		return nil, err
	}
	res.Invariants = append(res.Invariants, children)

	snap, err := r.checkSnapshot(ctx, id, events)
	if err != nil {
		return nil, err
	}
	res.Invariants = append(res.Invariants, snap)

	res.AllPassed = len(res.Failed()) == 0
	if r.metrics != nil {
		for _, name := range res.Failed() {
			r.metrics.ReconcileViolations.WithLabelValues(name).Inc()
		}
	}
	return res, nil
}

func checkContiguity(id uuid.UUID, events []domain.Event) InvariantCheck {
	for i, e := range events {
		if e.AggregateID != id {
			return InvariantCheck{Name: VersionContiguity, Detail: fmt.Sprintf("event %s belongs to %s", e.ID, e.AggregateID)}
		}
		if e.Version != i+1 {
			return InvariantCheck{Name: VersionContiguity, Detail: fmt.Sprintf("position %d has version %d", i+1, e.Version)}
		}
	}
	return InvariantCheck{Name: VersionContiguity, Passed: true, Detail: fmt.Sprintf("versions 1..%d", len(events))}
}

func checkProjection(row *domain.PolicyView, version int, folded *policy.Policy, foldErr error) []InvariantCheck {
	if row == nil {
		return []InvariantCheck{
			{Name: ProjectionPresent, Detail: "no read model row"},
			{Name: ProjectionVersion, Detail: "no read model row"},
			{Name: ProjectionState, Detail: "no read model row"},
		}
	}

	checks := []InvariantCheck{
		{Name: ProjectionPresent, Passed: true},
		{
			Name:   ProjectionVersion,
			Passed: row.Version == version,
			Detail: fmt.Sprintf("row=%d events=%d", row.Version, version),
		},
	}

	if foldErr != nil {
		return append(checks, InvariantCheck{Name: ProjectionState, Detail: fmt.Sprintf("fold failed: %v", foldErr)})
	}
	s := folded.Snapshot()
	statePass := row.Status == string(s.Status) &&
		row.Premium == s.Premium &&
		row.PolicyNumber == s.PolicyNumber &&
		row.QuoteNumber == s.QuoteNumber &&
		row.ExpirationDate.String() == s.ExpirationDate.String()
	return append(checks, InvariantCheck{
		Name:   ProjectionState,
		Passed: statePass,
		Detail: fmt.Sprintf("row=[%s %s %q %q %s] fold=[%s %s %q %q %s]",
			row.Status, row.Premium, row.PolicyNumber, row.QuoteNumber, row.ExpirationDate,
			s.Status, s.Premium, s.PolicyNumber, s.QuoteNumber, s.ExpirationDate),
	})
}

func (r *Reconciler) checkChildren(ctx context.Context, id uuid.UUID, row *domain.PolicyView, folded *policy.Policy, foldErr error) (InvariantCheck, error) {
	if row == nil {
		return InvariantCheck{Name: ProjectionChildren, Detail: "no read model row"}, nil
	}
	if foldErr != nil {
		return InvariantCheck{Name: ProjectionChildren, Detail: fmt.Sprintf("fold failed: %v", foldErr)}, nil
	}
	rm := r.projection.ReadModel()
	risks, err := rm.ListRisks(ctx, r.db, id)
	if err != nil {
		return InvariantCheck{}, fmt.Errorf("reconcile %s: load risks: %w", id, err)
	}
	coverages, err := rm.ListCoverages(ctx, r.db, id)
	if err != nil {
		return InvariantCheck{}, fmt.Errorf("reconcile %s: load coverages: %w", id, err)
	}

	s := folded.Snapshot()
	if detail := diffRisks(risks, s.Risks); detail != "" {
		return InvariantCheck{Name: ProjectionChildren, Detail: detail}, nil
	}
	if detail := diffCoverages(coverages, s.Coverages); detail != "" {
		return InvariantCheck{Name: ProjectionChildren, Detail: detail}, nil
	}
	return InvariantCheck{
		Name:   ProjectionChildren,
		Passed: true,
		Detail: fmt.Sprintf("risks=%d coverages=%d", len(risks), len(coverages)),
	}, nil
}

// diffRisks compares ids and types in order. Data is skipped: jsonb reformats it.
func diffRisks(rows []domain.RiskView, folded []policy.Risk) string {
	if len(rows) != len(folded) {
		return fmt.Sprintf("risks row=%d fold=%d", len(rows), len(folded))
	}
	for i := range rows {
		if rows[i].ID != folded[i].ID || rows[i].RiskType != folded[i].RiskType {
			return fmt.Sprintf("risk %d row=[%s %s] fold=[%s %s]", i+1,
				rows[i].ID, rows[i].RiskType, folded[i].ID, folded[i].RiskType)
		}
	}
	return ""
}

func diffCoverages(rows []domain.CoverageView, folded []policy.Coverage) string {
	if len(rows) != len(folded) {
		return fmt.Sprintf("coverages row=%d fold=%d", len(rows), len(folded))
	}
	for i := range rows {
		c := folded[i]
		if rows[i].ID != c.ID || rows[i].CoverageCode != c.CoverageCode ||
			rows[i].Limit != c.Limit || rows[i].Deductible != c.Deductible {
			return fmt.Sprintf("coverage %d row=[%s %s] fold=[%s %s]", i+1,
				rows[i].ID, rows[i].CoverageCode, c.ID, c.CoverageCode)
		}
	}
	return ""
}

func (r *Reconciler) checkSnapshot(ctx context.Context, id uuid.UUID, events []domain.Event) (InvariantCheck, error) {
	if r.snapshots == nil {
		return InvariantCheck{Name: SnapshotConsistent, Passed: true, Detail: "no snapshot store"}, nil
	}
	snap, err := r.snapshots.GetSnapshot(ctx, r.db, id)
	if err != nil {
		return InvariantCheck{}, fmt.Errorf("reconcile %s: load snapshot: %w", id, err)
	}
	if snap == nil {
		return InvariantCheck{Name: SnapshotConsistent, Passed: true, Detail: "no snapshot"}, nil
	}
	if snap.Version < 1 || snap.Version > len(events) {
		return InvariantCheck{
			Name:   SnapshotConsistent,
			Detail: fmt.Sprintf("snapshot version %d outside history 1..%d", snap.Version, len(events)),
		}, nil
	}

	fromSnap, err := policy.FromSnapshot(id, snap.Version, snap.State)
	if err != nil {
		return InvariantCheck{Name: SnapshotConsistent, Detail: err.Error()}, nil
	}
	replayed, err := policy.LoadFromHistory(id, events[:snap.Version])
	if err != nil {
		return InvariantCheck{Name: SnapshotConsistent, Detail: fmt.Sprintf("fold failed: %v", err)}, nil
	}
	if detail := diffState(fromSnap.Snapshot(), replayed.Snapshot()); detail != "" {
		return InvariantCheck{Name: SnapshotConsistent, Detail: fmt.Sprintf("snapshot v%d: %s", snap.Version, detail)}, nil
	}
	return InvariantCheck{
		Name:   SnapshotConsistent,
		Passed: true,
		Detail: fmt.Sprintf("snapshot v%d", snap.Version),
	}, nil
}

// diffState names the first queryable field where a and b disagree.
func diffState(a, b policy.State) string {
	switch {
	case a.Status != b.Status:
		return fmt.Sprintf("status %s != %s", a.Status, b.Status)
	case a.Premium != b.Premium:
		return fmt.Sprintf("premium %s != %s", a.Premium, b.Premium)
	case a.PolicyNumber != b.PolicyNumber:
		return fmt.Sprintf("policy number %q != %q", a.PolicyNumber, b.PolicyNumber)
	case a.QuoteNumber != b.QuoteNumber:
		return fmt.Sprintf("quote number %q != %q", a.QuoteNumber, b.QuoteNumber)
	case a.ExpirationDate.String() != b.ExpirationDate.String():
		return fmt.Sprintf("expiration %s != %s", a.ExpirationDate, b.ExpirationDate)
	case len(a.Risks) != len(b.Risks):
		return fmt.Sprintf("risks %d != %d", len(a.Risks), len(b.Risks))
	case len(a.Coverages) != len(b.Coverages):
		return fmt.Sprintf("coverages %d != %d", len(a.Coverages), len(b.Coverages))
	}
	for i := range a.Risks {
		if a.Risks[i].ID != b.Risks[i].ID || !bytes.Equal(a.Risks[i].Data, b.Risks[i].Data) {
			return fmt.Sprintf("risk %d differs", i+1)
		}
	}
	for i := range a.Coverages {
		if a.Coverages[i] != b.Coverages[i] {
			return fmt.Sprintf("coverage %d differs", i+1)
		}
	}
	return ""
}

// Repair rebuilds one policy's read model, and any snapshot, from its
// history in a single transaction. A broken history cannot be repaired here.
func (r *Reconciler) Repair(ctx context.Context, id uuid.UUID) error {
	err := r.tx.InTx(ctx, func(ctx context.Context, db repository.DBTX) error {
		events, err := r.events.GetEvents(ctx, db, id, 0)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return domain.ErrNotFound("policy", id.String())
		}
		if c := checkContiguity(id, events); !c.Passed {
			return fmt.Errorf("history of %s is not repairable: %s", id, c.Detail)
		}
		if err := r.projection.RebuildAggregate(ctx, db, id, events); err != nil {
			return err
		}
		return r.refreshSnapshot(ctx, db, id, events)
	})
	if err != nil {
		return fmt.Errorf("repair %s: %w", id, err)
	}

	if r.cache != nil {
		if err := projection.InvalidateSummary(ctx, r.cache, id); err != nil {
			r.logger.Warn("summary cache invalidation failed", "aggregate_id", id, "error", err)
		}
	}
	r.logger.Info("read model rebuilt", "aggregate_id", id)
	return nil
}

// refreshSnapshot replaces an existing snapshot with the fold at the head
// version. Aggregates without a snapshot are left without one.
func (r *Reconciler) refreshSnapshot(ctx context.Context, db repository.DBTX, id uuid.UUID, events []domain.Event) error {
	if r.snapshots == nil {
		return nil
	}
	existing, err := r.snapshots.GetSnapshot(ctx, db, id)
	if err != nil || existing == nil {
		return err
	}
	p, err := policy.LoadFromHistory(id, events)
	if err != nil {
		return err
	}
	state, err := p.ToSnapshot()
	if err != nil {
		return err
	}
	return r.snapshots.SaveSnapshot(ctx, db, domain.Snapshot{
		AggregateID:   id,
		AggregateType: domain.AggregatePolicy,
		Version:       p.Version(),
		State:         state,
	})
}

// RunAll checks every policy with bounded concurrency, repairing failures
// when repair is set. Per-aggregate errors are recorded in the report; only
// listing failures and cancellation abort the run.
func (r *Reconciler) RunAll(ctx context.Context, repair bool) (*Report, error) {
	ids, err := r.events.ListAggregateIDs(ctx, r.db, domain.AggregatePolicy)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	results := make([]*Result, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	var mu sync.Mutex
	report := &Report{Checked: len(ids)}

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := r.reconcileOne(gctx, id, repair)
			results[i] = res

			mu.Lock()
			defer mu.Unlock()
			switch {
			case res.Err != nil:
				report.Errors++
			case res.Repaired:
				report.Repaired++
			case !res.AllPassed:
				report.Failed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Results = results
	r.logger.Info("reconciliation finished",
		"checked", report.Checked,
		"failed", report.Failed,
		"repaired", report.Repaired,
		"errors", report.Errors,
	)
	return report, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, id uuid.UUID, repair bool) *Result {
	res, err := r.Check(ctx, id)
	if err != nil {
		return &Result{AggregateID: id, Err: err}
	}
	if res.AllPassed || !repair {
		if !res.AllPassed {
			r.logger.Warn("invariant violations", "aggregate_id", id, "failed", res.Failed())
		}
		return res
	}
	if !res.passed(VersionContiguity) {
		r.logger.Error("history is corrupt, skipping repair", "aggregate_id", id, "failed", res.Failed())
		return res
	}

	if err := r.Repair(ctx, id); err != nil {
		res.Err = err
		return res
	}
	after, err := r.Check(ctx, id)
	if err != nil {
		res.Err = err
		return res
	}
	after.Repaired = after.AllPassed
	return after
}

// Package handler serves the operator HTTP surface of the long-running
// binaries: health, Prometheus metrics and on-demand reconciliation checks.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/agenticcore/platform/internal/domain"
	"github.com/agenticcore/platform/internal/reconcile"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PolicyChecker checks one policy's invariants without repairing it.
type PolicyChecker interface {
	Check(ctx context.Context, id uuid.UUID) (*reconcile.Result, error)
}

// OpsDeps configures NewOpsRouter. Gatherer defaults to the default
// Prometheus registry; a nil Checker leaves the reconcile route unmounted.
type OpsDeps struct {
	Logger   *slog.Logger
	Gatherer prometheus.Gatherer
	Checks   map[string]HealthCheck
	Checker  PolicyChecker
}

// NewOpsRouter builds the operator router.
func NewOpsRouter(deps OpsDeps) http.Handler {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(Recovery(deps.Logger))
	r.Use(RequestID)
	r.Use(RequestLogger(deps.Logger))

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(JSONContentType)
		r.Get("/health", HealthHandler(deps.Checks))
		if deps.Checker != nil {
			r.Get("/policies/{id}/reconcile", checkPolicy(deps.Checker))
		}
	})
	return r
}

// checkPolicy answers with the invariant report of one policy. A failing
// report is still a 200; the body says which invariants broke.
func checkPolicy(checker PolicyChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			RespondError(w, domain.ErrValidation("invalid policy id"))
			return
		}
		res, err := checker.Check(r.Context(), id)
		if err != nil {
			RespondError(w, err)
			return
		}
		RespondJSON(w, http.StatusOK, res)
	}
}

package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/kiranshivaraju/castkeeper/internal/api/response"
	"github.com/kiranshivaraju/castkeeper/internal/reconcile"
	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// Reconciler runs consistency passes on demand and serves the latest report.
type Reconciler interface {
	RunOnce(ctx context.Context) (*models.ConsistencyReport, error)
	Latest(ctx context.Context) (*models.ConsistencyReport, error)
}

type ReportLister interface {
	ListReports(ctx context.Context, limit int) ([]*models.ConsistencyReport, error)
}

// NewLatestReportHandler returns GET /api/v1/reports/latest.
func NewLatestReportHandler(rec Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := rec.Latest(r.Context())
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "No consistency report yet", nil)
			return
		}
		if err != nil {
			internalError(w, "Failed to load report")
			return
		}
		response.JSON(w, report)
	}
}

// NewListReportsHandler returns GET /api/v1/reports, newest first.
func NewListReportsHandler(l ReportLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := queryInt(w, r, "limit")
		if !ok {
			return
		}
		if limit == 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		reports, err := l.ListReports(r.Context(), limit)
		if err != nil {
			internalError(w, "Failed to list reports")
			return
		}
		if reports == nil {
			reports = []*models.ConsistencyReport{}
		}
		response.JSON(w, reports)
	}
}

// NewReconcileHandler returns POST /api/v1/reconcile, which runs one pass
// synchronously and returns its report.
func NewReconcileHandler(rec Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := rec.RunOnce(r.Context())
		switch {
		case errors.Is(err, reconcile.ErrLeaseHeld):
			response.Error(w, http.StatusConflict, "RECONCILE_RUNNING", "A reconciliation pass is already running", nil)
		case err != nil && report != nil:
			// The pass ran but its report could not be persisted.
			response.JSON(w, report)
		case err != nil:
			internalError(w, "Reconciliation failed")
		default:
			response.JSON(w, report)
		}
	}
}

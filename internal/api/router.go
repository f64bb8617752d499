package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/castkeeper/internal/api/middleware"
	"github.com/kiranshivaraju/castkeeper/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Logger    *slog.Logger
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	JobStats    http.HandlerFunc
	JobFailures http.HandlerFunc
	ListJobs    http.HandlerFunc
	GetJob      http.HandlerFunc
	EnqueueJob  http.HandlerFunc
	RetryJob    http.HandlerFunc

	ListApprovals   http.HandlerFunc
	ApproveApproval http.HandlerFunc
	RejectApproval  http.HandlerFunc
	Spend           http.HandlerFunc

	LatestReport http.HandlerFunc
	ListReports  http.HandlerFunc
	Reconcile    http.HandlerFunc

	UpsertContent     http.HandlerFunc
	DeactivateContent http.HandlerFunc
	DeleteContent     http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", orNotImplemented(deps.HealthHandler))

		// Read-only monitoring
		r.Get("/jobs/stats", orNotImplemented(deps.JobStats))
		r.Get("/jobs/failures", orNotImplemented(deps.JobFailures))
		r.Get("/jobs", orNotImplemented(deps.ListJobs))
		r.Get("/jobs/{jobID}", orNotImplemented(deps.GetJob))
		r.Get("/approvals", orNotImplemented(deps.ListApprovals))
		r.Get("/spend", orNotImplemented(deps.Spend))
		r.Get("/reports/latest", orNotImplemented(deps.LatestReport))
		r.Get("/reports", orNotImplemented(deps.ListReports))

		// Mutating routes
		r.Group(func(r chi.Router) {
			if deps.RateLimit != nil {
				r.Use(deps.RateLimit.Limit)
			}

			r.Post("/jobs", orNotImplemented(deps.EnqueueJob))
			r.Post("/jobs/{jobID}/retry", orNotImplemented(deps.RetryJob))

			r.Post("/approvals/{approvalID}/approve", orNotImplemented(deps.ApproveApproval))
			r.Post("/approvals/{approvalID}/reject", orNotImplemented(deps.RejectApproval))

			r.Post("/reconcile", orNotImplemented(deps.Reconcile))

			r.Put("/content/{contentID}", orNotImplemented(deps.UpsertContent))
			r.Post("/content/{contentID}/deactivate", orNotImplemented(deps.DeactivateContent))
			r.Delete("/content/{contentID}", orNotImplemented(deps.DeleteContent))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}

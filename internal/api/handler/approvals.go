package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/castkeeper/internal/api/response"
	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// Approver decides pending cost approvals and reports spend.
type Approver interface {
	Approve(ctx context.Context, id uuid.UUID, decidedBy string) (*models.CostApproval, error)
	Reject(ctx context.Context, id uuid.UUID, decidedBy, reason string) (*models.CostApproval, error)
	Spend(ctx context.Context) (models.Spend, error)
}

type ApprovalLister interface {
	ListApprovals(ctx context.Context, status models.ApprovalStatus, limit int) ([]*models.CostApproval, error)
}

// NewListApprovalsHandler returns GET /api/v1/approvals. The status filter
// defaults to pending; status=all lists every approval.
func NewListApprovalsHandler(l ApprovalLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := models.ApprovalStatus(r.URL.Query().Get("status"))
		switch status {
		case "":
			status = models.ApprovalPending
		case "all":
			status = ""
		case models.ApprovalPending, models.ApprovalApproved, models.ApprovalRejected:
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "status must be pending, approved, rejected or all", nil)
			return
		}
		limit, ok := queryInt(w, r, "limit")
		if !ok {
			return
		}
		if limit == 0 || limit > 100 {
			limit = 100
		}

		approvals, err := l.ListApprovals(r.Context(), status, limit)
		if err != nil {
			internalError(w, "Failed to list approvals")
			return
		}
		if approvals == nil {
			approvals = []*models.CostApproval{}
		}
		response.JSON(w, approvals)
	}
}

type decisionRequest struct {
	DecidedBy string `json:"decided_by" validate:"omitempty,max=100"`
	Reason    string `json:"reason"     validate:"omitempty,max=500"`
}

const defaultDecider = "operator"

// NewApproveHandler returns POST /api/v1/approvals/{approvalID}/approve.
func NewApproveHandler(a Approver) http.HandlerFunc {
	return decide(func(ctx context.Context, id uuid.UUID, req decisionRequest) (*models.CostApproval, error) {
		return a.Approve(ctx, id, req.DecidedBy)
	})
}

// NewRejectHandler returns POST /api/v1/approvals/{approvalID}/reject.
func NewRejectHandler(a Approver) http.HandlerFunc {
	return decide(func(ctx context.Context, id uuid.UUID, req decisionRequest) (*models.CostApproval, error) {
		reason := req.Reason
		if reason == "" {
			reason = "rejected by " + req.DecidedBy
		}
		return a.Reject(ctx, id, req.DecidedBy, reason)
	})
}

func decide(fn func(ctx context.Context, id uuid.UUID, req decisionRequest) (*models.CostApproval, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "approvalID")
		if !ok {
			return
		}
		var req decisionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.DecidedBy == "" {
			req.DecidedBy = defaultDecider
		}

		approval, err := fn(r.Context(), id, req)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Approval not found", nil)
		case errors.Is(err, store.ErrAlreadyDecided):
			response.Error(w, http.StatusConflict, "ALREADY_DECIDED", "Approval was already decided", approval)
		case err != nil:
			internalError(w, "Failed to record decision")
		default:
			response.JSON(w, approval)
		}
	}
}

// NewSpendHandler returns GET /api/v1/spend.
func NewSpendHandler(a Approver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spend, err := a.Spend(r.Context())
		if err != nil {
			internalError(w, "Failed to read spend counters")
			return
		}
		response.JSON(w, spend)
	}
}

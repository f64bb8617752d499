package models

import (
	"time"

	"github.com/google/uuid"
)

// Purpose identifies which paid call an approval covers.
type Purpose string

const (
	PurposeTranscription Purpose = "transcription"
	PurposeEmbedding     Purpose = "embedding"
)

// ApprovalStatus is the state of a CostApproval. Only pending can change.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Decision is the cost gate's answer to a spend request.
type Decision string

const (
	DecisionAutoApproved    Decision = "auto_approved"
	DecisionPendingApproval Decision = "pending_approval"
	DecisionRejected        Decision = "rejected"
	// DecisionApproved is the outcome of a pending request an operator approved.
	DecisionApproved Decision = "approved"
)

// Allowed reports whether the paid call may proceed.
func (d Decision) Allowed() bool {
	return d == DecisionAutoApproved || d == DecisionApproved
}

// CostApproval records a request to spend money on a paid API call.
type CostApproval struct {
	ID            uuid.UUID      `db:"id"             json:"id"`
	ContentID     int64          `db:"content_id"     json:"content_id"`
	JobID         uuid.UUID      `db:"job_id"         json:"job_id"`
	Purpose       Purpose        `db:"purpose"        json:"purpose"`
	EstimatedCost float64        `db:"estimated_cost" json:"estimated_cost"`
	Status        ApprovalStatus `db:"status"         json:"status"`
	Reason        *string        `db:"reason"         json:"reason,omitempty"`
	RequestedAt   time.Time      `db:"requested_at"   json:"requested_at"`
	ExpiresAt     time.Time      `db:"expires_at"     json:"expires_at"`
	DecidedAt     *time.Time     `db:"decided_at"     json:"decided_at,omitempty"`
	DecidedBy     *string        `db:"decided_by"     json:"decided_by,omitempty"`
}

// Spend is a snapshot of the running spend counters in dollars.
type Spend struct {
	Daily        float64 `json:"daily"`
	Monthly      float64 `json:"monthly"`
	DailyLimit   float64 `json:"daily_limit"`
	MonthlyLimit float64 `json:"monthly_limit"`
}

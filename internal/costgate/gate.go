// Package costgate decides whether a paid engine call may run. Decisions are
// auto-approve, pending operator approval, or reject, and they are enforced
// against per-item, daily and monthly spend ceilings.
package costgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/castkeeper/internal/cache"
	"github.com/kiranshivaraju/castkeeper/internal/config"
	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// SystemDecider is recorded as decided_by when the gate itself expires a request.
const SystemDecider = "system"

// Ledger holds the running spend counters.
type Ledger interface {
	ReserveSpend(ctx context.Context, at time.Time, micros, dailyLimit, monthlyLimit int64) (cache.ReserveResult, error)
	ReleaseSpend(ctx context.Context, at time.Time, micros int64) error
	Spend(ctx context.Context, at time.Time) (daily, monthly int64, err error)
}

// Notifier wakes approval waiters across processes.
type Notifier interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string) (cache.Subscription, error)
}

// Request describes one paid call.
type Request struct {
	ContentID     int64
	JobID         uuid.UUID
	Purpose       models.Purpose
	EstimatedCost float64
}

// Result is the gate's answer for a Request.
type Result struct {
	Decision      models.Decision
	EstimatedCost float64
	Reason        string
	// Approval is set when an approval record exists for the request.
	Approval *models.CostApproval
	// ReservedAt is the timestamp the spend was reserved against. Zero when
	// nothing is reserved.
	ReservedAt time.Time
}

// Gate implements the cost approval flow.
type Gate struct {
	approvals store.ApprovalStore
	ledger    Ledger
	notifier  Notifier
	cfg       config.CostConfig
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Gate)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func New(approvals store.ApprovalStore, ledger Ledger, notifier Notifier, cfg config.CostConfig, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		approvals: approvals,
		ledger:    ledger,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With("component", "costgate"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func toMicros(dollars float64) int64 {
	return int64(math.Round(dollars * 1e6))
}

func fromMicros(micros int64) float64 {
	return float64(micros) / 1e6
}

// Check evaluates req. A pending or approved approval that already exists for
// the same job and purpose is returned as-is so a restarted job does not
// reserve twice or ask the operator again.
func (g *Gate) Check(ctx context.Context, req Request) (*Result, error) {
	if req.EstimatedCost < 0 || math.IsNaN(req.EstimatedCost) {
		return nil, fmt.Errorf("invalid cost estimate %v", req.EstimatedCost)
	}

	existing, err := g.approvals.FindOpenApproval(ctx, req.JobID, req.Purpose)
	switch {
	case err == nil:
		g.logger.Info("reusing approval", "approval_id", existing.ID, "job_id", req.JobID, "status", existing.Status)
		return resultFor(existing), nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("finding open approval: %w", err)
	}

	log := g.logger.With("content_id", req.ContentID, "job_id", req.JobID, "purpose", req.Purpose, "estimated_cost", req.EstimatedCost)

	if req.EstimatedCost > g.cfg.PerItemCeiling {
		log.Warn("paid call rejected", "reason", "per-item ceiling")
		return &Result{
			Decision:      models.DecisionRejected,
			EstimatedCost: req.EstimatedCost,
			Reason:        fmt.Sprintf("estimated cost $%.4f exceeds per-item ceiling $%.2f", req.EstimatedCost, g.cfg.PerItemCeiling),
		}, nil
	}

	now := g.now().UTC()
	micros := toMicros(req.EstimatedCost)
	res, err := g.ledger.ReserveSpend(ctx, now, micros, toMicros(g.cfg.DailyCeiling), toMicros(g.cfg.MonthlyCeiling))
	if err != nil {
		return nil, fmt.Errorf("reserving spend: %w", err)
	}
	switch res {
	case cache.DailyCeilingExceeded:
		log.Warn("paid call rejected", "reason", res.String())
		return &Result{Decision: models.DecisionRejected, EstimatedCost: req.EstimatedCost,
			Reason: fmt.Sprintf("daily spend ceiling $%.2f reached", g.cfg.DailyCeiling)}, nil
	case cache.MonthlyCeilingExceeded:
		log.Warn("paid call rejected", "reason", res.String())
		return &Result{Decision: models.DecisionRejected, EstimatedCost: req.EstimatedCost,
			Reason: fmt.Sprintf("monthly spend ceiling $%.2f reached", g.cfg.MonthlyCeiling)}, nil
	}

	if req.EstimatedCost <= g.cfg.AutoApproveThreshold {
		log.Info("paid call auto-approved")
		return &Result{Decision: models.DecisionAutoApproved, EstimatedCost: req.EstimatedCost, ReservedAt: now}, nil
	}

	a := &models.CostApproval{
		ID:            uuid.New(),
		ContentID:     req.ContentID,
		JobID:         req.JobID,
		Purpose:       req.Purpose,
		EstimatedCost: req.EstimatedCost,
		Status:        models.ApprovalPending,
		RequestedAt:   now,
		ExpiresAt:     now.Add(g.cfg.ApprovalTimeout),
	}
	if err := g.approvals.CreateApproval(ctx, a); err != nil {
		if rerr := g.ledger.ReleaseSpend(ctx, now, micros); rerr != nil {
			log.Error("failed to release reservation", "error", rerr)
		}
		return nil, fmt.Errorf("creating approval: %w", err)
	}
	g.publish(ctx, a)
	log.Info("paid call awaiting approval", "approval_id", a.ID, "expires_at", a.ExpiresAt)

	return &Result{Decision: models.DecisionPendingApproval, EstimatedCost: req.EstimatedCost, Approval: a, ReservedAt: now}, nil
}

// Await blocks until approval is decided or expires. On timeout the approval
// is rejected and its reservation released. A cancelled ctx returns ctx.Err()
// and leaves the approval pending.
func (g *Gate) Await(ctx context.Context, approval *models.CostApproval) (*Result, error) {
	var msgs <-chan string
	sub, err := g.notifier.Subscribe(ctx, cache.ApprovalsChannel)
	if err != nil {
		g.logger.Warn("approval subscription unavailable, polling only", "error", err)
	} else {
		defer sub.Close()
		msgs = sub.Messages()
	}

	ticker := time.NewTicker(g.cfg.ApprovalPollInterval)
	defer ticker.Stop()
	timer := time.NewTimer(max(approval.ExpiresAt.Sub(g.now()), 0))
	defer timer.Stop()

	for {
		current, err := g.approvals.GetApproval(ctx, approval.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("reading approval: %w", err)
		}
		if current.Status != models.ApprovalPending {
			return resultFor(current), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		case _, ok := <-msgs:
			if !ok {
				msgs = nil
			}
		case <-timer.C:
			return g.expire(ctx, current, "approval timed out")
		}
	}
}

func resultFor(a *models.CostApproval) *Result {
	r := &Result{EstimatedCost: a.EstimatedCost, Approval: a}
	if a.Reason != nil {
		r.Reason = *a.Reason
	}
	switch a.Status {
	case models.ApprovalApproved:
		r.Decision = models.DecisionApproved
		r.ReservedAt = a.RequestedAt
	case models.ApprovalRejected:
		r.Decision = models.DecisionRejected
	default:
		r.Decision = models.DecisionPendingApproval
		r.ReservedAt = a.RequestedAt
	}
	return r
}

func (g *Gate) expire(ctx context.Context, a *models.CostApproval, reason string) (*Result, error) {
	decided, err := g.approvals.DecideApproval(ctx, a.ID, models.ApprovalRejected, SystemDecider, reason)
	if errors.Is(err, store.ErrAlreadyDecided) {
		return resultFor(decided), nil
	}
	if err != nil {
		return nil, fmt.Errorf("expiring approval: %w", err)
	}
	g.release(ctx, decided)
	g.publish(ctx, decided)
	g.logger.Info("approval expired", "approval_id", a.ID, "job_id", a.JobID)
	return resultFor(decided), nil
}

// Approve marks a pending approval approved.
func (g *Gate) Approve(ctx context.Context, id uuid.UUID, decidedBy string) (*models.CostApproval, error) {
	a, err := g.approvals.DecideApproval(ctx, id, models.ApprovalApproved, decidedBy, "")
	if err != nil {
		return a, err
	}
	g.publish(ctx, a)
	g.logger.Info("approval approved", "approval_id", id, "decided_by", decidedBy)
	return a, nil
}

// Reject marks a pending approval rejected and releases its reservation.
func (g *Gate) Reject(ctx context.Context, id uuid.UUID, decidedBy, reason string) (*models.CostApproval, error) {
	a, err := g.approvals.DecideApproval(ctx, id, models.ApprovalRejected, decidedBy, reason)
	if err != nil {
		return a, err
	}
	g.release(ctx, a)
	g.publish(ctx, a)
	g.logger.Info("approval rejected", "approval_id", id, "decided_by", decidedBy)
	return a, nil
}

// ExpireStale rejects pending approvals whose deadline has passed.
func (g *Gate) ExpireStale(ctx context.Context) (found, fixed int, err error) {
	expired, err := g.approvals.ListExpiredApprovals(ctx, g.now())
	if err != nil {
		return 0, 0, fmt.Errorf("listing expired approvals: %w", err)
	}
	for _, a := range expired {
		decided, err := g.approvals.DecideApproval(ctx, a.ID, models.ApprovalRejected, SystemDecider, "approval expired")
		if errors.Is(err, store.ErrAlreadyDecided) {
			continue
		}
		if err != nil {
			return len(expired), fixed, fmt.Errorf("expiring approval %s: %w", a.ID, err)
		}
		g.release(ctx, decided)
		g.publish(ctx, decided)
		fixed++
	}
	return len(expired), fixed, nil
}

// Refund returns the reservation behind an auto-approved result whose paid
// call did not go through. An operator-approved reservation stays held: the
// retried job reuses the approval and its reservation.
func (g *Gate) Refund(ctx context.Context, r *Result) error {
	if r == nil || !r.Decision.Allowed() || r.ReservedAt.IsZero() || r.Approval != nil {
		return nil
	}
	if err := g.ledger.ReleaseSpend(ctx, r.ReservedAt, toMicros(r.EstimatedCost)); err != nil {
		return fmt.Errorf("refunding spend: %w", err)
	}
	return nil
}

// Spend reports the current daily and monthly totals.
func (g *Gate) Spend(ctx context.Context) (models.Spend, error) {
	daily, monthly, err := g.ledger.Spend(ctx, g.now().UTC())
	if err != nil {
		return models.Spend{}, fmt.Errorf("reading spend: %w", err)
	}
	return models.Spend{
		Daily:        fromMicros(daily),
		Monthly:      fromMicros(monthly),
		DailyLimit:   g.cfg.DailyCeiling,
		MonthlyLimit: g.cfg.MonthlyCeiling,
	}, nil
}

func (g *Gate) release(ctx context.Context, a *models.CostApproval) {
	if err := g.ledger.ReleaseSpend(ctx, a.RequestedAt, toMicros(a.EstimatedCost)); err != nil {
		g.logger.Error("failed to release reservation", "approval_id", a.ID, "error", err)
	}
}

func (g *Gate) publish(ctx context.Context, a *models.CostApproval) {
	if err := g.notifier.Publish(ctx, cache.ApprovalsChannel, a.ID.String()+":"+string(a.Status)); err != nil {
		g.logger.Warn("failed to publish approval event", "approval_id", a.ID, "error", err)
	}
}

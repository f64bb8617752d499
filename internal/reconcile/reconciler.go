// Package reconcile repairs drift between the job store, the transcript
// table and the vector index. One pass runs per deployment at a time, guarded
// by a Redis lease.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/castkeeper/internal/cache"
	"github.com/kiranshivaraju/castkeeper/internal/config"
	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/internal/vectorindex"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// ErrLeaseHeld is returned by RunOnce when another instance holds the lease.
var ErrLeaseHeld = errors.New("reconcile pass already running")

// reportTTL bounds how long the cached latest report survives without a new pass.
const reportTTL = 24 * time.Hour

// ApprovalExpirer rejects approvals past their deadline and releases their
// reservations.
type ApprovalExpirer interface {
	ExpireStale(ctx context.Context) (found, fixed int, err error)
}

// Reconciler runs consistency passes.
type Reconciler struct {
	store     store.Store
	index     vectorindex.Index
	cache     cache.Cache
	approvals ApprovalExpirer

	cfg          config.ReconcileConfig
	stallTimeout time.Duration
	maxRetries   int
	instanceID   string
	logger       *slog.Logger
	now          func() time.Time

	// mu serializes passes within this process; the lease covers the rest.
	mu sync.Mutex
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func New(st store.Store, idx vectorindex.Index, c cache.Cache, approvals ApprovalExpirer, cfg *config.Config, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:        st,
		index:        idx,
		cache:        c,
		approvals:    approvals,
		cfg:          cfg.Reconcile,
		stallTimeout: cfg.Worker.StallTimeout,
		maxRetries:   cfg.Worker.MaxRetries,
		instanceID:   cfg.Server.InstanceID,
		logger:       logger.With("component", "reconcile"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run calls RunOnce every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, ErrLeaseHeld) && ctx.Err() == nil {
				r.logger.Error("reconcile pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs a full pass and returns its report. Individual step
// failures are recorded in the report rather than aborting the pass.
func (r *Reconciler) RunOnce(ctx context.Context) (*models.ConsistencyReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner := fmt.Sprintf("%s:%s", r.instanceID, uuid.NewString())
	ok, err := r.cache.AcquireLease(ctx, cache.ReconcileLeaseKey, owner, r.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquiring reconcile lease: %w", err)
	}
	if !ok {
		r.logger.Debug("reconcile lease held elsewhere, skipping pass")
		return nil, ErrLeaseHeld
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := r.cache.ReleaseLease(rctx, cache.ReconcileLeaseKey, owner); err != nil {
			r.logger.Warn("failed to release reconcile lease", "error", err)
		}
	}()

	started := r.now()
	p := &pass{r: r, report: models.NewConsistencyReport(started.UTC()), cutoff: started.Add(-r.stallTimeout)}
	p.run(ctx)
	p.report.FinishedAt = r.now().UTC()

	if err := r.store.SaveReport(ctx, p.report); err != nil {
		return p.report, fmt.Errorf("saving report: %w", err)
	}
	if data, err := json.Marshal(p.report); err == nil {
		if err := r.cache.Set(ctx, cache.LatestReportKey, data, reportTTL); err != nil {
			r.logger.Warn("failed to cache report", "error", err)
		}
	}

	r.logger.Info("reconcile pass finished",
		"report_id", p.report.ID,
		"found", p.report.TotalFound(),
		"errors", len(p.report.Errors),
		"duration", p.report.FinishedAt.Sub(p.report.StartedAt).Round(time.Millisecond))
	return p.report, nil
}

// Latest returns the most recent report, from the cache when possible.
func (r *Reconciler) Latest(ctx context.Context) (*models.ConsistencyReport, error) {
	if data, ok, err := r.cache.Get(ctx, cache.LatestReportKey); err == nil && ok {
		var rep models.ConsistencyReport
		if err := json.Unmarshal(data, &rep); err == nil {
			return &rep, nil
		}
	}
	return r.store.LatestReport(ctx)
}

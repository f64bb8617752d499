// Package lifecycle orders startup and shutdown so that no job is left owned
// by a worker that no longer exists.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/castkeeper/internal/config"
	"github.com/kiranshivaraju/castkeeper/internal/media"
	"github.com/kiranshivaraju/castkeeper/internal/reconcile"
	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// Pool is the worker pool as driven by the controller.
type Pool interface {
	Start(ctx context.Context)
	Stop(grace time.Duration) bool
	Wake(kind models.JobKind)
	WorkerIDs() []string
}

type Reconciler interface {
	RunOnce(ctx context.Context) (*models.ConsistencyReport, error)
	Run(ctx context.Context)
}

// Listener delivers job notifications until ctx is done. The payload is a job kind.
type Listener func(ctx context.Context, notify func(payload string))

// Controller owns the running pool, the reconcile loop and the job listener.
type Controller struct {
	jobs   store.JobStore
	pool   Pool
	rec    Reconciler
	spool  *media.Spool
	listen Listener
	cfg    config.WorkerConfig
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Controller)

// WithListener wakes workers on job notifications instead of relying on polling alone.
func WithListener(l Listener) Option {
	return func(c *Controller) { c.listen = l }
}

func New(jobs store.JobStore, pool Pool, rec Reconciler, spool *media.Spool, cfg config.WorkerConfig, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		jobs:   jobs,
		pool:   pool,
		rec:    rec,
		spool:  spool,
		cfg:    cfg,
		logger: logger.With("component", "lifecycle"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start resets jobs left behind by a previous run of this instance, runs one
// reconcile pass and then starts claiming.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	reset, err := c.jobs.ResetOwnedJobs(ctx, c.pool.WorkerIDs(), c.cfg.MaxRetries)
	if err != nil {
		return fmt.Errorf("resetting owned jobs: %w", err)
	}
	if len(reset) > 0 {
		c.logger.Warn("reset jobs left processing by a previous run", "count", len(reset))
	}

	report, err := c.rec.RunOnce(ctx)
	switch {
	case errors.Is(err, reconcile.ErrLeaseHeld):
		c.logger.Info("startup reconcile skipped, another instance is reconciling")
	case err != nil:
		c.logger.Warn("startup reconcile failed", "error", err)
	default:
		c.logger.Info("startup reconcile finished", "found", report.TotalFound())
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.pool.Start(runCtx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.rec.Run(runCtx)
	}()
	if c.listen != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.listen(runCtx, func(payload string) {
				c.pool.Wake(models.JobKind(payload))
			})
		}()
	}

	c.running = true
	c.logger.Info("processing started", "workers", len(c.pool.WorkerIDs()))
	return nil
}

// Shutdown stops claiming, gives in-flight jobs the configured grace period,
// returns whatever is still owned to the queue and clears the media spool.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false

	c.cancel()
	finished := c.pool.Stop(c.cfg.ShutdownGrace)
	c.wg.Wait()
	if !finished {
		c.logger.Warn("in-flight jobs interrupted at shutdown", "grace", c.cfg.ShutdownGrace)
	}

	var errs []error
	reset, err := c.jobs.ResetOwnedJobs(ctx, c.pool.WorkerIDs(), c.cfg.MaxRetries)
	if err != nil {
		errs = append(errs, fmt.Errorf("resetting owned jobs: %w", err))
	} else if len(reset) > 0 {
		c.logger.Info("returned interrupted jobs to the queue", "count", len(reset))
	}

	if _, err := c.spool.Cleanup(c.logger); err != nil {
		errs = append(errs, fmt.Errorf("cleaning media spool: %w", err))
	}

	c.logger.Info("processing stopped")
	return errors.Join(errs...)
}

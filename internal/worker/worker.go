package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/castkeeper/internal/config"
	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// errClaimLost cancels a job context when its heartbeat finds the job is no
// longer owned by the worker.
var errClaimLost = errors.New("claim lost")

// Worker claims and runs jobs of one kind.
type Worker struct {
	ID   string
	Kind models.JobKind

	deps   *Deps
	cfg    config.WorkerConfig
	handle handler
	wake   chan struct{}
	logger *slog.Logger
}

// ID format is <instance>-<kind>-<n>.
func workerID(instance string, kind models.JobKind, n int) string {
	return fmt.Sprintf("%s-%s-%d", instance, kind, n)
}

func newWorker(id string, kind models.JobKind, deps *Deps, cfg config.WorkerConfig, h handler) *Worker {
	return &Worker{
		ID:     id,
		Kind:   kind,
		deps:   deps,
		cfg:    cfg,
		handle: h,
		wake:   make(chan struct{}, 1),
		logger: deps.Logger.With("worker_id", id, "kind", kind),
	}
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) idleBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.PollInterval
	b.MaxInterval = w.cfg.PollMaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// run claims jobs until claimCtx is done. Jobs run under jobCtx so a stop
// request lets in-flight work finish.
func (w *Worker) run(claimCtx, jobCtx context.Context) {
	idle := w.idleBackoff()
	for {
		if claimCtx.Err() != nil {
			return
		}

		job, err := w.deps.Store.ClaimJob(claimCtx, w.Kind, w.ID)
		switch {
		case err == nil:
			idle.Reset()
			w.process(jobCtx, job)
			continue
		case errors.Is(err, store.ErrNoJob):
			if !w.sleep(claimCtx, idle.NextBackOff()) {
				return
			}
		default:
			if claimCtx.Err() != nil {
				return
			}
			w.logger.Error("claim failed, pausing until job store is reachable", "error", err)
			if !w.waitForStore(claimCtx) {
				return
			}
			w.logger.Info("job store reachable again, resuming claims")
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.wake:
		return true
	case <-t.C:
		return true
	}
}

func (w *Worker) waitForStore(ctx context.Context) bool {
	b := w.idleBackoff()
	err := backoff.Retry(func() error {
		return w.deps.Store.Ping(ctx)
	}, backoff.WithContext(b, ctx))
	return err == nil
}

// process runs a claimed job and records its outcome.
func (w *Worker) process(parent context.Context, job *models.Job) {
	log := jobLogger(w.logger, job)
	log.Info("job claimed", "priority", job.Priority, "retry_count", job.RetryCount)
	start := time.Now()

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	stopHeartbeat := w.heartbeat(ctx, cancel, job, log)

	err := w.handle(ctx, w, job)
	stopHeartbeat()

	switch {
	case err == nil:
		log.Info("job completed", "duration", time.Since(start).Round(time.Millisecond))
	case errors.Is(err, store.ErrClaimConflict) || errors.Is(context.Cause(ctx), errClaimLost):
		log.Warn("job no longer owned by this worker, dropping result", "error", err)
	case parent.Err() != nil:
		log.Info("job interrupted by shutdown", "error", err)
	default:
		w.fail(job, err, log)
	}
}

func (w *Worker) fail(job *models.Job, cause error, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kind := models.KindOf(cause)
	updated, err := w.deps.Store.FailJob(ctx, job.ID, w.ID, store.JobFailure{
		Kind:       kind,
		Message:    cause.Error(),
		MaxRetries: w.cfg.MaxRetries,
	})
	switch {
	case errors.Is(err, store.ErrClaimConflict):
		log.Warn("job no longer owned when recording failure", "error", cause)
	case err != nil:
		log.Error("failed to record job failure", "error", err, "cause", cause)
	case updated.Status == models.JobStatusPending:
		log.Warn("job failed, will retry", "error", cause, "error_kind", kind, "retry_count", updated.RetryCount)
	default:
		log.Error("job failed", "error", cause, "error_kind", *updated.ErrorKind, "retry_count", updated.RetryCount)
	}
}

// heartbeat refreshes the job's heartbeat until the returned stop func is
// called. Losing the claim cancels ctx with errClaimLost.
func (w *Worker) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, job *models.Job, log *slog.Logger) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := w.deps.Store.HeartbeatJob(ctx, job.ID, w.ID)
				if errors.Is(err, store.ErrClaimConflict) {
					log.Warn("heartbeat found job reassigned, abandoning")
					cancel(errClaimLost)
					return
				}
				if err != nil && ctx.Err() == nil {
					log.Warn("heartbeat failed", "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

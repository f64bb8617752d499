package worker

import (
	"context"
	"sync"
	"time"

	"github.com/kiranshivaraju/castkeeper/internal/config"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// Pool runs the configured number of workers per job kind.
type Pool struct {
	deps    *Deps
	cfg     config.WorkerConfig
	workers []*Worker

	mu         sync.Mutex
	started    bool
	stopClaims context.CancelFunc
	cancelJobs context.CancelFunc
	wg         sync.WaitGroup
}

func NewPool(deps Deps, cfg config.WorkerConfig, instanceID string) *Pool {
	d := &deps
	d.Logger = d.Logger.With("component", "worker")
	p := &Pool{deps: d, cfg: cfg}
	for i := 0; i < cfg.TranscribeWorkers; i++ {
		p.workers = append(p.workers, newWorker(workerID(instanceID, models.KindTranscribe, i), models.KindTranscribe, d, cfg, transcribeJob))
	}
	for i := 0; i < cfg.EmbedWorkers; i++ {
		p.workers = append(p.workers, newWorker(workerID(instanceID, models.KindChunkEmbed, i), models.KindChunkEmbed, d, cfg, embedJob))
	}
	return p
}

// WorkerIDs returns every worker id this pool runs, used to reset jobs
// still owned by this instance.
func (p *Pool) WorkerIDs() []string {
	ids := make([]string, len(p.workers))
	for i, w := range p.workers {
		ids[i] = w.ID
	}
	return ids
}

// Start launches the workers. Jobs keep running after ctx is cancelled until
// Stop gives up on them.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	claimCtx, stopClaims := context.WithCancel(ctx)
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	p.stopClaims = stopClaims
	p.cancelJobs = cancelJobs

	for _, w := range p.workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(claimCtx, jobCtx)
		}()
	}
	p.deps.Logger.Info("worker pool started", "workers", len(p.workers),
		"transcribe_workers", p.cfg.TranscribeWorkers, "embed_workers", p.cfg.EmbedWorkers)
}

// Wake nudges idle workers of kind to claim immediately. An empty kind
// wakes everyone.
func (p *Pool) Wake(kind models.JobKind) {
	for _, w := range p.workers {
		if kind == "" || w.Kind == kind {
			w.signal()
		}
	}
}

// Stop stops claiming and waits up to grace for in-flight jobs. Jobs still
// running after that have their contexts cancelled. It reports whether every
// job finished within grace.
func (p *Pool) Stop(grace time.Duration) bool {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return true
	}
	stopClaims, cancelJobs := p.stopClaims, p.cancelJobs
	p.mu.Unlock()

	stopClaims()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		cancelJobs()
		p.deps.Logger.Info("worker pool stopped")
		return true
	case <-timer.C:
		p.deps.Logger.Warn("shutdown grace elapsed, cancelling in-flight jobs", "grace", grace)
		cancelJobs()
		<-done
		return false
	}
}

package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// pass holds the state of one reconcile run. The catalog and index id
// snapshots are taken once and reused by later steps.
type pass struct {
	r      *Reconciler
	report *models.ConsistencyReport

	// cutoff separates live processing jobs from stalled ones.
	cutoff time.Time

	items   []*models.ContentItem
	catalog map[int64]*models.ContentItem
	indexed map[int64]bool
}

type step struct {
	name string
	fn   func(ctx context.Context) error
}

func (p *pass) run(ctx context.Context) {
	steps := []step{
		{"flag sync", p.syncFlags},
		{"stuck jobs", p.resetStuck},
		{"orphans", p.removeOrphans},
		{"duplicates", p.collapseDuplicates},
		{"deactivation cascade", p.cascadeInactive},
		{"expired approvals", p.expireApprovals},
		{"missing stages", p.enqueueMissing},
		{"job retention", p.purgeFinished},
	}
	for _, s := range steps {
		if ctx.Err() != nil {
			p.fail(s.name, ctx.Err())
			return
		}
		if err := s.fn(ctx); err != nil {
			p.fail(s.name, err)
		}
	}
}

func (p *pass) fail(name string, err error) {
	p.r.logger.Error("reconcile step failed", "step", name, "error", err)
	p.report.Errors = append(p.report.Errors, fmt.Sprintf("%s: %v", name, err))
}

func (p *pass) add(category string, found, fixed int) {
	p.report.Add(category, found, fixed)
	if found > 0 {
		p.r.logger.Warn("inconsistency repaired", "category", category, "found", found, "fixed", fixed)
	}
}

// snapshot loads the catalog and the set of content ids present in the index.
func (p *pass) snapshot(ctx context.Context) error {
	items, err := p.r.store.ListContentFlags(ctx)
	if err != nil {
		return fmt.Errorf("listing content: %w", err)
	}
	ids, err := p.r.index.ContentIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing indexed content: %w", err)
	}
	p.items = items
	p.catalog = make(map[int64]*models.ContentItem, len(items))
	for _, it := range items {
		p.catalog[it.ID] = it
	}
	p.indexed = make(map[int64]bool, len(ids))
	for _, id := range ids {
		p.indexed[id] = true
	}
	return nil
}

func (p *pass) syncFlags(ctx context.Context) error {
	changed, err := p.r.store.SyncTranscriptFlags(ctx)
	if err != nil {
		return fmt.Errorf("syncing transcript flags: %w", err)
	}
	p.add(models.CategoryFlagMismatchTranscript, len(changed), len(changed))

	// Items with a live embedding are skipped: the worker sets the flag when
	// it completes. Stalled jobs are not live and are reset by the next step.
	inflight, err := p.r.store.LiveJobContentIDs(ctx, models.KindChunkEmbed, p.cutoff)
	if err != nil {
		return fmt.Errorf("listing in-flight embeddings: %w", err)
	}
	if err := p.snapshot(ctx); err != nil {
		return err
	}
	skip := make(map[int64]bool, len(inflight))
	for _, id := range inflight {
		skip[id] = true
	}

	var set, unset []int64
	for _, it := range p.items {
		if !it.IsActive || skip[it.ID] {
			continue
		}
		has := p.indexed[it.ID]
		switch {
		case has && !it.HasVectors:
			set = append(set, it.ID)
		case !has && it.HasVectors:
			unset = append(unset, it.ID)
		}
	}
	fixed := 0
	if len(set) > 0 {
		n, err := p.r.store.SetVectorFlags(ctx, set, true)
		if err != nil {
			return fmt.Errorf("setting vector flags: %w", err)
		}
		fixed += n
	}
	if len(unset) > 0 {
		n, err := p.r.store.SetVectorFlags(ctx, unset, false)
		if err != nil {
			return fmt.Errorf("clearing vector flags: %w", err)
		}
		fixed += n
	}
	for _, id := range set {
		p.catalog[id].HasVectors = true
	}
	for _, id := range unset {
		p.catalog[id].HasVectors = false
	}
	p.add(models.CategoryFlagMismatchVectors, len(set)+len(unset), fixed)
	return nil
}

func (p *pass) resetStuck(ctx context.Context) error {
	jobs, err := p.r.store.ResetStaleJobs(ctx, p.cutoff, p.r.maxRetries)
	if err != nil {
		return fmt.Errorf("resetting stale jobs: %w", err)
	}
	for _, j := range jobs {
		p.r.logger.Warn("stale job reset", "job_id", j.ID, "content_id", j.ContentID, "kind", j.Kind,
			"status", j.Status, "retry_count", j.RetryCount)
	}
	p.add(models.CategoryStuckJobs, len(jobs), len(jobs))
	return nil
}

func (p *pass) removeOrphans(ctx context.Context) error {
	ids, err := p.r.store.DeleteOrphanSegments(ctx)
	if err != nil {
		return fmt.Errorf("deleting orphan transcripts: %w", err)
	}
	p.add(models.CategoryOrphanTranscripts, len(ids), len(ids))

	if p.catalog == nil {
		if err := p.snapshot(ctx); err != nil {
			return err
		}
	}
	found, fixed := 0, 0
	var firstErr error
	for id := range p.indexed {
		if _, ok := p.catalog[id]; ok {
			continue
		}
		found++
		if _, err := p.r.index.DeleteAll(ctx, id); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("deleting orphan vectors for %d: %w", id, err)
			}
			continue
		}
		delete(p.indexed, id)
		fixed++
	}
	p.add(models.CategoryOrphanVectors, found, fixed)

	jobs, err := p.r.store.CancelOrphanJobs(ctx)
	if err != nil {
		return fmt.Errorf("cancelling orphan jobs: %w", err)
	}
	p.add(models.CategoryOrphanJobs, len(jobs), len(jobs))
	return firstErr
}

func (p *pass) collapseDuplicates(ctx context.Context) error {
	jobs, err := p.r.store.CollapseDuplicateJobs(ctx)
	if err != nil {
		return fmt.Errorf("collapsing duplicate jobs: %w", err)
	}
	p.add(models.CategoryDuplicateJobs, len(jobs), len(jobs))

	gens, err := p.r.index.StaleGenerations(ctx)
	if err != nil {
		return fmt.Errorf("listing stale generations: %w", err)
	}
	fixed := 0
	var firstErr error
	for _, g := range gens {
		if _, err := p.r.index.DeleteGeneration(ctx, g); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("deleting generation %s of %d: %w", g.ID, g.ContentID, err)
			}
			continue
		}
		fixed++
	}
	p.add(models.CategoryDuplicateVectorSets, len(gens), fixed)
	return firstErr
}

// cascadeInactive finishes what a deactivation event starts: queued work is
// cancelled and vectors are removed so search never returns inactive content.
func (p *pass) cascadeInactive(ctx context.Context) error {
	jobs, err := p.r.store.CancelInactiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("cancelling inactive jobs: %w", err)
	}
	p.add(models.CategoryInactiveJobs, len(jobs), len(jobs))

	if p.catalog == nil {
		if err := p.snapshot(ctx); err != nil {
			return err
		}
	}
	var cleaned []int64
	found := 0
	var firstErr error
	for _, it := range p.items {
		if it.IsActive || (!p.indexed[it.ID] && !it.HasVectors) {
			continue
		}
		found++
		if p.indexed[it.ID] {
			if _, err := p.r.index.DeleteAll(ctx, it.ID); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("deleting vectors of inactive %d: %w", it.ID, err)
				}
				continue
			}
			delete(p.indexed, it.ID)
		}
		cleaned = append(cleaned, it.ID)
	}
	if len(cleaned) > 0 {
		if _, err := p.r.store.SetVectorFlags(ctx, cleaned, false); err != nil {
			p.add(models.CategoryInactiveVectors, found, 0)
			return fmt.Errorf("clearing inactive vector flags: %w", err)
		}
	}
	p.add(models.CategoryInactiveVectors, found, len(cleaned))
	return firstErr
}

func (p *pass) expireApprovals(ctx context.Context) error {
	found, fixed, err := p.r.approvals.ExpireStale(ctx)
	p.add(models.CategoryExpiredApprovals, found, fixed)
	if err != nil {
		return fmt.Errorf("expiring approvals: %w", err)
	}
	return nil
}

func (p *pass) enqueueMissing(ctx context.Context) error {
	total := 0
	for _, kind := range models.Kinds {
		jobs, err := p.r.store.EnqueueMissingStages(ctx, kind, 0)
		if err != nil {
			p.add(models.CategoryMissingJobs, total, total)
			return fmt.Errorf("enqueueing missing %s jobs: %w", kind, err)
		}
		total += len(jobs)
	}
	p.add(models.CategoryMissingJobs, total, total)
	return nil
}

func (p *pass) purgeFinished(ctx context.Context) error {
	if p.r.cfg.JobRetention <= 0 {
		return nil
	}
	n, err := p.r.store.PurgeFinishedJobs(ctx, p.r.now().Add(-p.r.cfg.JobRetention))
	if err != nil {
		return fmt.Errorf("purging finished jobs: %w", err)
	}
	if n > 0 {
		p.r.logger.Info("finished jobs purged", "count", n, "retention", p.r.cfg.JobRetention)
	}
	p.report.Add(models.CategoryPurgedJobs, n, n)
	return nil
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/castkeeper/internal/chunking"
	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

var ErrTranscriptMissing = errors.New("content has no transcript")

func embedJob(ctx context.Context, w *Worker, job *models.Job) error {
	d := w.deps
	log := jobLogger(w.logger, job)

	item, err := loadActiveContent(ctx, d.Store, job.ContentID)
	if err != nil {
		return err
	}
	if !item.HasTranscript {
		return models.Precondition(fmt.Errorf("%w: %d", ErrTranscriptMissing, item.ID))
	}

	segs, err := d.Store.ListSegments(ctx, item.ID)
	if err != nil {
		return models.Transient(fmt.Errorf("loading transcript: %w", err))
	}
	if len(segs) == 0 {
		return models.Precondition(fmt.Errorf("%w: %d has no segments", ErrTranscriptMissing, item.ID))
	}

	chunks, err := d.Chunker.Chunk(segs)
	if err != nil {
		return models.Precondition(fmt.Errorf("chunking: %w", err))
	}
	if err := chunking.Validate(chunks, segs); err != nil {
		return models.Precondition(err)
	}

	texts := make([]string, len(chunks))
	chars := 0
	for i, c := range chunks {
		texts[i] = c.Text
		chars += len(c.Text)
	}

	vectors, localErr := w.embedLocal(ctx, texts, log)
	if localErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		vectors, err = w.embedPaid(ctx, job, texts, chars, localErr, log)
		if err != nil {
			return err
		}
	}

	entries := make([]models.VectorEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = models.VectorEntry{
			ContentID: item.ID,
			Order:     c.Order,
			Start:     c.Start,
			End:       c.End,
			Text:      c.Text,
			Embedding: vectors[i],
		}
	}

	// The index write is outside the job store transaction, so confirm the
	// claim first to avoid overwriting a newer run's vectors.
	if err := d.Store.HeartbeatJob(ctx, job.ID, w.ID); err != nil {
		if errors.Is(err, store.ErrClaimConflict) {
			return err
		}
		return models.Transient(fmt.Errorf("confirming claim: %w", err))
	}
	gen, err := d.Index.Replace(ctx, item.ID, entries)
	if err != nil {
		return models.Transient(fmt.Errorf("writing vectors: %w", err))
	}
	log.Info("vectors written", "entries", len(entries), "generation", gen)

	if err := d.Store.CompleteEmbedding(ctx, job.ID, w.ID); err != nil {
		if errors.Is(err, store.ErrClaimConflict) {
			return err
		}
		return models.Transient(fmt.Errorf("completing embedding: %w", err))
	}
	return nil
}

func (w *Worker) embedLocal(ctx context.Context, texts []string, log *slog.Logger) ([][]float32, error) {
	engine := w.deps.LocalEmbedder
	if engine == nil {
		return nil, ErrNoEngine
	}
	lctx, cancel := context.WithTimeout(ctx, w.cfg.LocalTimeout)
	defer cancel()

	vectors, err := engine.Embed(lctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("%w: %d vectors for %d chunks", models.ErrInvalidResponse, len(vectors), len(texts))
	}
	if err != nil {
		log.Warn("local embedding failed", "engine", engine.Name(), "error", err)
		return nil, err
	}
	return vectors, nil
}

func (w *Worker) embedPaid(ctx context.Context, job *models.Job, texts []string, chars int, localErr error, log *slog.Logger) ([][]float32, error) {
	engine := w.deps.PaidEmbedder
	if engine == nil {
		return nil, models.Transient(fmt.Errorf("local embedder failed and no paid fallback is configured: %w", localErr))
	}

	res, err := w.authorize(ctx, job, models.PurposeEmbedding, engine.EstimateEmbeddingCost(chars), log)
	if err != nil {
		return nil, err
	}

	vectors, err := engine.Embed(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("%w: %d vectors for %d chunks", models.ErrInvalidResponse, len(vectors), len(texts))
	}
	if err != nil {
		w.refund(res, log)
		return nil, models.Transient(fmt.Errorf("paid embedding (%s): %w", engine.Name(), err))
	}
	log.Info("paid embedding finished", "engine", engine.Name(), "chunks", len(texts), "estimated_cost", res.EstimatedCost)
	return vectors, nil
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/castkeeper/internal/costgate"
	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/internal/transcribe"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

var (
	ErrContentMissing  = errors.New("content item not found")
	ErrContentInactive = errors.New("content item is inactive")
	ErrNoSpeech        = errors.New("no segments produced")
	ErrNoEngine        = errors.New("no engine available")
)

func loadActiveContent(ctx context.Context, st store.Store, id int64) (*models.ContentItem, error) {
	item, err := st.GetContent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.Precondition(fmt.Errorf("%w: %d", ErrContentMissing, id))
	}
	if err != nil {
		return nil, models.Transient(fmt.Errorf("loading content: %w", err))
	}
	if !item.IsActive {
		return nil, models.Precondition(fmt.Errorf("%w: %d", ErrContentInactive, id))
	}
	return item, nil
}

func transcribeJob(ctx context.Context, w *Worker, job *models.Job) error {
	d := w.deps
	log := jobLogger(w.logger, job)

	item, err := loadActiveContent(ctx, d.Store, job.ContentID)
	if err != nil {
		return err
	}

	path, err := d.Fetcher.Fetch(ctx, item)
	if err != nil {
		return err
	}
	defer d.Spool.Release(log, path)

	segs, localErr := w.transcribeLocal(ctx, path, item.DurationSeconds, log)
	if localErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		segs, err = w.transcribePaid(ctx, job, path, item.DurationSeconds, localErr, log)
		if err != nil {
			return err
		}
	}
	if len(segs) == 0 {
		return models.Precondition(fmt.Errorf("transcribing content %d: %w", item.ID, ErrNoSpeech))
	}

	out := make([]models.TranscriptSegment, len(segs))
	for i, s := range segs {
		out[i] = models.TranscriptSegment{ContentID: item.ID, Order: i, Start: s.Start, End: s.End, Text: s.Text}
	}
	if err := d.Store.CompleteTranscription(ctx, job.ID, w.ID, out); err != nil {
		if errors.Is(err, store.ErrClaimConflict) {
			return err
		}
		return models.Transient(fmt.Errorf("saving transcript: %w", err))
	}
	log.Info("transcript saved", "segments", len(out))
	return nil
}

// transcribeLocal returns an error when the local engine is missing, fails,
// times out or hears nothing.
func (w *Worker) transcribeLocal(ctx context.Context, path string, duration float64, log *slog.Logger) ([]models.Segment, error) {
	engine := w.deps.LocalTranscriber
	if engine == nil {
		return nil, ErrNoEngine
	}
	lctx, cancel := context.WithTimeout(ctx, w.cfg.LocalTimeout)
	defer cancel()

	segs, err := w.deps.Audio.Run(lctx, engine, path, duration)
	if err != nil {
		log.Warn("local transcription failed", "engine", engine.Name(), "error", err)
		return nil, err
	}
	if len(segs) == 0 {
		log.Warn("local transcription returned no segments", "engine", engine.Name())
		return nil, ErrNoSpeech
	}
	return segs, nil
}

func (w *Worker) transcribePaid(ctx context.Context, job *models.Job, path string, duration float64, localErr error, log *slog.Logger) ([]models.Segment, error) {
	engine := w.deps.PaidTranscriber
	if engine == nil {
		if errors.Is(localErr, ErrNoSpeech) {
			return nil, nil
		}
		return nil, models.Transient(fmt.Errorf("local engine failed and no paid fallback is configured: %w", localErr))
	}

	res, err := w.authorize(ctx, job, models.PurposeTranscription, engine.EstimateTranscriptionCost(duration), log)
	if err != nil {
		return nil, err
	}

	segs, err := engine.Transcribe(ctx, models.TranscriptionRequest{AudioPath: path, DurationSeconds: duration, Language: w.deps.Language})
	if err != nil {
		w.refund(res, log)
		return nil, models.Transient(fmt.Errorf("paid transcription (%s): %w", engine.Name(), err))
	}
	log.Info("paid transcription finished", "engine", engine.Name(), "segments", len(segs), "estimated_cost", res.EstimatedCost)
	return transcribe.Normalize(segs, duration), nil
}

// authorize runs the cost gate for one paid call, waiting for an operator
// when needed. A rejection is a terminal cost_rejected error.
func (w *Worker) authorize(ctx context.Context, job *models.Job, purpose models.Purpose, cost float64, log *slog.Logger) (*costgate.Result, error) {
	res, err := w.deps.Gate.Check(ctx, costgate.Request{
		ContentID:     job.ContentID,
		JobID:         job.ID,
		Purpose:       purpose,
		EstimatedCost: cost,
	})
	if err != nil {
		return nil, models.Transient(fmt.Errorf("cost gate: %w", err))
	}

	if res.Decision == models.DecisionPendingApproval {
		log.Info("waiting for cost approval", "approval_id", approvalID(res), "estimated_cost", res.EstimatedCost)
		res, err = w.deps.Gate.Await(ctx, res.Approval)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, models.Transient(fmt.Errorf("awaiting approval: %w", err))
		}
	}

	if !res.Decision.Allowed() {
		return nil, models.CostRejected(fmt.Errorf("paid %s rejected: %s", purpose, res.Reason))
	}
	return res, nil
}

func (w *Worker) refund(res *costgate.Result, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.deps.Gate.Refund(ctx, res); err != nil {
		log.Error("failed to refund reservation", "error", err)
	}
}

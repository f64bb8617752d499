package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/kiranshivaraju/castkeeper/internal/config"
	"github.com/kiranshivaraju/castkeeper/internal/media"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Cutter extracts a window of source audio to dest.
type Cutter interface {
	Cut(ctx context.Context, source string, startSec, durationSec float64, dest string) error
}

// Runner transcribes audio files, windowing them when they exceed the
// single-call budget.
type Runner struct {
	cutter Cutter
	spool  *media.Spool
	cfg    config.TranscribeConfig
	logger *slog.Logger
}

func NewRunner(cutter Cutter, spool *media.Spool, cfg config.TranscribeConfig, logger *slog.Logger) *Runner {
	return &Runner{cutter: cutter, spool: spool, cfg: cfg, logger: logger.With("component", "transcribe")}
}

// Run transcribes the audio at path with engine and returns segments on the
// source timeline.
func (r *Runner) Run(ctx context.Context, engine models.Transcriber, path string, duration float64) ([]models.Segment, error) {
	windows := PlanWindows(duration, r.cfg.WindowSeconds, r.cfg.OverlapSeconds, r.cfg.LocalMaxSeconds)
	if len(windows) <= 1 {
		segs, err := engine.Transcribe(ctx, models.TranscriptionRequest{
			AudioPath:       path,
			DurationSeconds: duration,
			Language:        r.cfg.Language,
		})
		if err != nil {
			return nil, err
		}
		return Normalize(segs, duration), nil
	}

	dir, err := r.spool.TempDir("windows-*")
	if err != nil {
		return nil, fmt.Errorf("creating window dir: %w", err)
	}
	defer r.spool.Release(r.logger, dir)

	r.logger.Info("transcribing in windows", "engine", engine.Name(), "windows", len(windows), "duration_seconds", duration)

	results := make([]WindowResult, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.cfg.ParallelWindows, 1))
	for i, w := range windows {
		g.Go(func() error {
			dest := filepath.Join(dir, fmt.Sprintf("window-%03d.wav", w.Index))
			if err := r.cutter.Cut(gctx, path, w.Start, w.Duration, dest); err != nil {
				return fmt.Errorf("window %d: %w", w.Index, err)
			}
			segs, err := engine.Transcribe(gctx, models.TranscriptionRequest{
				AudioPath:       dest,
				DurationSeconds: w.Duration,
				Language:        r.cfg.Language,
			})
			if err != nil {
				return fmt.Errorf("window %d: %w", w.Index, err)
			}
			results[i] = WindowResult{Window: w, Segments: segs}
			r.spool.Release(r.logger, dest)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Merge(results, duration), nil
}

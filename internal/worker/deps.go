// Package worker claims processing jobs from the job store and runs the
// transcribe and chunk_embed stages.
package worker

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/castkeeper/internal/chunking"
	"github.com/kiranshivaraju/castkeeper/internal/costgate"
	"github.com/kiranshivaraju/castkeeper/internal/media"
	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/internal/vectorindex"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// Gate is the part of the cost gate a worker uses.
type Gate interface {
	Check(ctx context.Context, req costgate.Request) (*costgate.Result, error)
	Await(ctx context.Context, approval *models.CostApproval) (*costgate.Result, error)
	Refund(ctx context.Context, r *costgate.Result) error
}

// Fetcher downloads a content item's media into the spool.
type Fetcher interface {
	Fetch(ctx context.Context, item *models.ContentItem) (string, error)
}

// AudioTranscriber runs an engine over an audio file, windowing as needed.
type AudioTranscriber interface {
	Run(ctx context.Context, engine models.Transcriber, path string, duration float64) ([]models.Segment, error)
}

// Deps are the collaborators shared by every worker in a pool.
type Deps struct {
	Store   store.Store
	Index   vectorindex.Index
	Gate    Gate
	Fetcher Fetcher
	Audio   AudioTranscriber
	Chunker chunking.Chunker
	Spool   *media.Spool

	LocalTranscriber models.Transcriber
	PaidTranscriber  models.PaidTranscriber
	LocalEmbedder    models.Embedder
	PaidEmbedder     models.PaidEmbedder

	// Language is passed to paid transcription as a hint.
	Language string
	Logger   *slog.Logger
}

// handler runs one stage for a claimed job, including its completion write.
type handler func(ctx context.Context, w *Worker, job *models.Job) error

func jobLogger(l *slog.Logger, job *models.Job) *slog.Logger {
	return l.With("job_id", job.ID, "content_id", job.ContentID, "kind", job.Kind)
}

func approvalID(r *costgate.Result) uuid.UUID {
	if r == nil || r.Approval == nil {
		return uuid.Nil
	}
	return r.Approval.ID
}

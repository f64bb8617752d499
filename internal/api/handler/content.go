package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/castkeeper/internal/api/response"
	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// Catalog is the part of the store that receives catalog change events.
type Catalog interface {
	UpsertContent(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error)
	SetContentActive(ctx context.Context, id int64, active bool) error
	DeleteContent(ctx context.Context, id int64) error
	Enqueue(ctx context.Context, contentID int64, kind models.JobKind, priority int) (*models.Job, bool, error)
	CancelJobsForContent(ctx context.Context, contentID int64, reason string) ([]*models.Job, error)
}

const reasonDeactivated = "content deactivated"

type upsertContentRequest struct {
	Title           string  `json:"title"            validate:"max=500"`
	DurationSeconds float64 `json:"duration_seconds" validate:"gte=0"`
	SourceURL       string  `json:"source_url"       validate:"omitempty,max=2048"`
	IsActive        *bool   `json:"is_active"`
}

// ContentEvent is returned by the content endpoints.
type ContentEvent struct {
	Content   *models.ContentItem `json:"content,omitempty"`
	Enqueued  []*models.Job       `json:"enqueued,omitempty"`
	Cancelled int                 `json:"cancelled"`
}

// NewUpsertContentHandler returns PUT /api/v1/content/{contentID}. Active
// content that is missing a stage gets that stage enqueued; inactive content
// has its queued work cancelled.
func NewUpsertContentHandler(c Catalog, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathContentID(w, r)
		if !ok {
			return
		}
		var req upsertContentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		active := req.IsActive == nil || *req.IsActive

		item, err := c.UpsertContent(r.Context(), &models.ContentItem{
			ID:              id,
			Title:           req.Title,
			DurationSeconds: req.DurationSeconds,
			SourceURL:       req.SourceURL,
			IsActive:        active,
		})
		if err != nil {
			internalError(w, "Failed to save content")
			return
		}

		event := ContentEvent{Content: item}
		if !item.IsActive {
			cancelled, err := c.CancelJobsForContent(r.Context(), id, reasonDeactivated)
			if err != nil {
				internalError(w, "Failed to cancel jobs")
				return
			}
			event.Cancelled = len(cancelled)
			response.JSON(w, event)
			return
		}

		var kind models.JobKind
		switch {
		case !item.HasTranscript:
			kind = models.KindTranscribe
		case !item.HasVectors:
			kind = models.KindChunkEmbed
		}
		if kind != "" {
			job, created, err := c.Enqueue(r.Context(), id, kind, 0)
			if err != nil {
				internalError(w, "Failed to enqueue job")
				return
			}
			if created {
				logger.Info("job enqueued", "content_id", id, "kind", kind, "job_id", job.ID)
			}
			event.Enqueued = append(event.Enqueued, job)
		}
		response.JSON(w, event)
	}
}

// NewDeactivateContentHandler returns POST /api/v1/content/{contentID}/deactivate.
// Pending work is cancelled immediately; derived vectors are removed by the
// next reconciliation pass.
func NewDeactivateContentHandler(c Catalog, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathContentID(w, r)
		if !ok {
			return
		}

		err := c.SetContentActive(r.Context(), id, false)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Content not found", nil)
			return
		}
		if err != nil {
			internalError(w, "Failed to deactivate content")
			return
		}

		cancelled, err := c.CancelJobsForContent(r.Context(), id, reasonDeactivated)
		if err != nil {
			internalError(w, "Failed to cancel jobs")
			return
		}
		logger.Info("content deactivated", "content_id", id, "cancelled", len(cancelled))
		response.JSON(w, ContentEvent{Cancelled: len(cancelled)})
	}
}

// NewDeleteContentHandler returns DELETE /api/v1/content/{contentID}.
// Transcripts, vectors and jobs left behind are cleaned up by the reconciler.
func NewDeleteContentHandler(c Catalog, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathContentID(w, r)
		if !ok {
			return
		}

		err := c.DeleteContent(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Content not found", nil)
			return
		}
		if err != nil {
			internalError(w, "Failed to delete content")
			return
		}
		logger.Info("content removed", "content_id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

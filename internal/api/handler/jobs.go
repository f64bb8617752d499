package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/castkeeper/internal/api/response"
	"github.com/kiranshivaraju/castkeeper/internal/failures"
	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// JobQueue is the part of the job store the job endpoints use.
type JobQueue interface {
	GetContent(ctx context.Context, id int64) (*models.ContentItem, error)
	Enqueue(ctx context.Context, contentID int64, kind models.JobKind, priority int) (*models.Job, bool, error)
	RetryJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
	JobStats(ctx context.Context) ([]models.JobStat, error)
}

// JobStatsResult is the queue breakdown returned by GET /jobs/stats.
type JobStatsResult struct {
	Stats  []models.JobStat                            `json:"stats"`
	ByKind map[models.JobKind]map[models.JobStatus]int `json:"by_kind"`
}

// NewJobStatsHandler returns GET /api/v1/jobs/stats.
func NewJobStatsHandler(q JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := q.JobStats(r.Context())
		if err != nil {
			internalError(w, "Failed to load job stats")
			return
		}
		res := JobStatsResult{Stats: stats, ByKind: make(map[models.JobKind]map[models.JobStatus]int)}
		for _, k := range models.Kinds {
			res.ByKind[k] = map[models.JobStatus]int{}
		}
		for _, s := range stats {
			if res.ByKind[s.Kind] == nil {
				res.ByKind[s.Kind] = map[models.JobStatus]int{}
			}
			res.ByKind[s.Kind][s.Status] += s.Count
		}
		if res.Stats == nil {
			res.Stats = []models.JobStat{}
		}
		response.JSON(w, res)
	}
}

var jobStatuses = map[models.JobStatus]bool{
	models.JobStatusPending:    true,
	models.JobStatusProcessing: true,
	models.JobStatusCompleted:  true,
	models.JobStatusFailed:     true,
	models.JobStatusCancelled:  true,
}

// NewListJobsHandler returns GET /api/v1/jobs with optional content_id,
// kind, status, page and limit filters.
func NewListJobsHandler(q JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		var filter store.JobFilter

		if raw := query.Get("content_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "content_id must be a positive integer", nil)
				return
			}
			filter.ContentID = id
		}
		if raw := query.Get("kind"); raw != "" {
			filter.Kind = models.JobKind(raw)
			if !filter.Kind.Valid() {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "kind must be transcribe or chunk_embed", nil)
				return
			}
		}
		if raw := query.Get("status"); raw != "" {
			filter.Status = models.JobStatus(raw)
			if !jobStatuses[filter.Status] {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown status", nil)
				return
			}
		}
		var ok bool
		if filter.Page, ok = queryInt(w, r, "page"); !ok {
			return
		}
		if filter.Limit, ok = queryInt(w, r, "limit"); !ok {
			return
		}
		if filter.Limit > 100 {
			filter.Limit = 100
		}

		jobs, total, err := q.ListJobs(r.Context(), filter)
		if err != nil {
			internalError(w, "Failed to list jobs")
			return
		}
		if jobs == nil {
			jobs = []*models.Job{}
		}
		response.Page(w, jobs, response.NewMeta(filter.Page, filter.Limit, total))
	}
}

// NewGetJobHandler returns GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(q JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "jobID")
		if !ok {
			return
		}
		job, err := q.GetJob(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			internalError(w, "Failed to load job")
			return
		}
		response.JSON(w, job)
	}
}

type enqueueRequest struct {
	ContentID int64          `json:"content_id" validate:"required,gt=0"`
	Kind      models.JobKind `json:"kind"       validate:"required,oneof=transcribe chunk_embed"`
	Priority  int            `json:"priority"   validate:"gte=0,lte=100"`
}

// NewEnqueueJobHandler returns POST /api/v1/jobs. An existing pending or
// processing job for the same content and kind is returned with 200 instead
// of creating a second one.
func NewEnqueueJobHandler(q JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enqueueRequest
		if !decodeBody(w, r, &req) {
			return
		}

		item, err := q.GetContent(r.Context(), req.ContentID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Content not found", nil)
			return
		}
		if err != nil {
			internalError(w, "Failed to load content")
			return
		}
		if !item.IsActive {
			response.Error(w, http.StatusConflict, "CONTENT_INACTIVE", "Content is inactive", nil)
			return
		}

		job, created, err := q.Enqueue(r.Context(), req.ContentID, req.Kind, req.Priority)
		if err != nil {
			internalError(w, "Failed to enqueue job")
			return
		}
		if created {
			response.Created(w, job)
			return
		}
		response.JSON(w, job)
	}
}

// NewRetryJobHandler returns POST /api/v1/jobs/{jobID}/retry.
func NewRetryJobHandler(q JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "jobID")
		if !ok {
			return
		}

		job, err := q.RetryJob(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Job not found", nil)
		case errors.Is(err, store.ErrInvalidTransition):
			response.Error(w, http.StatusConflict, "JOB_NOT_FAILED", "Only failed jobs can be retried", nil)
		case errors.Is(err, store.ErrActiveJobExists):
			response.Error(w, http.StatusConflict, "ACTIVE_JOB_EXISTS",
				"Another pending or processing job exists for this content and kind", nil)
		case err != nil:
			internalError(w, "Failed to retry job")
		default:
			response.JSON(w, job)
		}
	}
}

// failureScanPages bounds how many pages of failed jobs one request groups.
const failureScanPages = 10

// NewJobFailuresHandler returns GET /api/v1/jobs/failures: failed jobs grouped
// by error fingerprint, optionally restricted to one kind. The `top` query
// parameter keeps only the largest groups.
func NewJobFailuresHandler(q JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.JobFilter{Status: models.JobStatusFailed, Limit: 100}
		if raw := r.URL.Query().Get("kind"); raw != "" {
			filter.Kind = models.JobKind(raw)
			if !filter.Kind.Valid() {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "kind must be transcribe or chunk_embed", nil)
				return
			}
		}
		top, ok := queryInt(w, r, "top")
		if !ok {
			return
		}

		var jobs []models.Job
		for page := 1; page <= failureScanPages; page++ {
			filter.Page = page
			batch, total, err := q.ListJobs(r.Context(), filter)
			if err != nil {
				internalError(w, "Failed to list failed jobs")
				return
			}
			for _, j := range batch {
				jobs = append(jobs, *j)
			}
			if len(batch) == 0 || page*filter.Limit >= total {
				break
			}
		}

		groups := failures.Group(jobs)
		if top > 0 && len(groups) > top {
			groups = groups[:top]
		}
		response.JSON(w, groups)
	}
}

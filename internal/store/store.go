package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")

	// ErrNoJob is returned by ClaimJob when nothing eligible is pending.
	ErrNoJob             = errors.New("no job available")
	// ErrClaimConflict means the job is no longer processing under the caller's
	// ownership, usually because it was reset or cancelled underneath it.
	ErrClaimConflict     = errors.New("job no longer owned by worker")
	// ErrActiveJobExists is returned when a retry would create a second
	// pending or processing job for the same content and kind.
	ErrActiveJobExists   = errors.New("another pending or processing job exists")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrAlreadyDecided    = errors.New("approval already decided")
)

// JobsChannel is the LISTEN/NOTIFY channel signalled when jobs become pending.
// The payload is the job kind.
const JobsChannel = "processing_jobs"

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	CatalogStore
	JobStore
	TranscriptStore
	ApprovalStore
	ReportStore
}

// CatalogStore manages content items, the authority for existence and activity.
type CatalogStore interface {
	UpsertContent(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error)
	GetContent(ctx context.Context, id int64) (*models.ContentItem, error)
	SetContentActive(ctx context.Context, id int64, active bool) error
	DeleteContent(ctx context.Context, id int64) error
	ListContentFlags(ctx context.Context) ([]*models.ContentItem, error)
	// SyncTranscriptFlags recomputes has_transcript from the segment table and
	// returns the ids whose flag changed.
	SyncTranscriptFlags(ctx context.Context) ([]int64, error)
	// SetVectorFlags sets has_vectors to value on ids whose flag differs and
	// returns the number of rows changed.
	SetVectorFlags(ctx context.Context, ids []int64, value bool) (int, error)
}

// JobStore is the processing job queue and state machine.
type JobStore interface {
	// Enqueue creates a pending job unless a pending or processing job for the
	// same content and kind already exists, in which case that job is returned
	// and created is false.
	Enqueue(ctx context.Context, contentID int64, kind models.JobKind, priority int) (job *models.Job, created bool, err error)
	ClaimJob(ctx context.Context, kind models.JobKind, workerID string) (*models.Job, error)
	HeartbeatJob(ctx context.Context, id uuid.UUID, workerID string) error
	CompleteTranscription(ctx context.Context, id uuid.UUID, workerID string, segments []models.TranscriptSegment) error
	CompleteEmbedding(ctx context.Context, id uuid.UUID, workerID string) error
	FailJob(ctx context.Context, id uuid.UUID, workerID string, failure JobFailure) (*models.Job, error)
	ResetStaleJobs(ctx context.Context, cutoff time.Time, maxRetries int) ([]*models.Job, error)
	ResetOwnedJobs(ctx context.Context, owners []string, maxRetries int) ([]*models.Job, error)
	CancelJobsForContent(ctx context.Context, contentID int64, reason string) ([]*models.Job, error)
	CancelInactiveJobs(ctx context.Context) ([]*models.Job, error)
	CancelOrphanJobs(ctx context.Context) ([]*models.Job, error)
	CollapseDuplicateJobs(ctx context.Context) ([]*models.Job, error)
	// PurgeFinishedJobs deletes completed and cancelled jobs that finished
	// before cutoff. Failed jobs are kept until an operator retries them.
	PurgeFinishedJobs(ctx context.Context, cutoff time.Time) (int, error)
	EnqueueMissingStages(ctx context.Context, kind models.JobKind, priority int) ([]*models.Job, error)
	RetryJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	JobStats(ctx context.Context) ([]models.JobStat, error)
	// LiveJobContentIDs returns content ids with a processing job of kind
	// whose last heartbeat is not older than cutoff.
	LiveJobContentIDs(ctx context.Context, kind models.JobKind, cutoff time.Time) ([]int64, error)
}

type TranscriptStore interface {
	ListSegments(ctx context.Context, contentID int64) ([]models.TranscriptSegment, error)
	// DeleteOrphanSegments removes segments whose content item is gone and
	// returns the distinct content ids cleaned up.
	DeleteOrphanSegments(ctx context.Context) ([]int64, error)
}

type ApprovalStore interface {
	CreateApproval(ctx context.Context, a *models.CostApproval) error
	GetApproval(ctx context.Context, id uuid.UUID) (*models.CostApproval, error)
	// FindOpenApproval returns the newest pending or approved approval for
	// the job and purpose.
	FindOpenApproval(ctx context.Context, jobID uuid.UUID, purpose models.Purpose) (*models.CostApproval, error)
	// DecideApproval moves a pending approval to status. It returns
	// ErrAlreadyDecided, together with the current record, when the approval
	// is no longer pending.
	DecideApproval(ctx context.Context, id uuid.UUID, status models.ApprovalStatus, decidedBy, reason string) (*models.CostApproval, error)
	ListApprovals(ctx context.Context, status models.ApprovalStatus, limit int) ([]*models.CostApproval, error)
	ListExpiredApprovals(ctx context.Context, now time.Time) ([]*models.CostApproval, error)
}

type ReportStore interface {
	SaveReport(ctx context.Context, r *models.ConsistencyReport) error
	LatestReport(ctx context.Context) (*models.ConsistencyReport, error)
	ListReports(ctx context.Context, limit int) ([]*models.ConsistencyReport, error)
}

// JobFailure describes why a processing job failed.
type JobFailure struct {
	Kind       models.ErrorKind
	Message    string
	MaxRetries int
}

type JobFilter struct {
	ContentID int64
	Kind      models.JobKind
	Status    models.JobStatus
	Page      int
	Limit     int
}

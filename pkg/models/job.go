package models

import (
	"time"

	"github.com/google/uuid"
)

// JobKind names a processing stage.
type JobKind string

const (
	KindTranscribe JobKind = "transcribe"
	KindChunkEmbed JobKind = "chunk_embed"
)

// Kinds lists every stage in pipeline order.
var Kinds = []JobKind{KindTranscribe, KindChunkEmbed}

// Valid reports whether k is a known stage.
func (k JobKind) Valid() bool {
	return k == KindTranscribe || k == KindChunkEmbed
}

// JobStatus is the lifecycle state of a ProcessingJob.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed without operator
// action. Failed jobs are terminal for workers but can be retried explicitly.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Active reports whether the job occupies the (content_id, kind) slot.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// ErrorMessageInterrupted is recorded on jobs returned to pending after their
// worker stopped heartbeating or shut down.
const ErrorMessageInterrupted = "interrupted"

// Job is a unit of work for one content item and one stage.
// At most one job per (ContentID, Kind) is pending or processing at a time.
type Job struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	ContentID    int64      `db:"content_id"    json:"content_id"`
	Kind         JobKind    `db:"kind"          json:"kind"`
	Status       JobStatus  `db:"status"        json:"status"`
	Priority     int        `db:"priority"      json:"priority"`
	RetryCount   int        `db:"retry_count"   json:"retry_count"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	ErrorKind    *ErrorKind `db:"error_kind"    json:"error_kind,omitempty"`
	Owner        *string    `db:"owner"         json:"owner,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	HeartbeatAt  *time.Time `db:"heartbeat_at"  json:"heartbeat_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// JobStat is one row of the kind/status breakdown used by the stats endpoint.
type JobStat struct {
	Kind   JobKind   `json:"kind"`
	Status JobStatus `json:"status"`
	Count  int       `json:"count"`
}

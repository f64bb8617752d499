package models

import (
	"time"

	"github.com/google/uuid"
)

// Report categories, one per class of drift the reconciler repairs.
const (
	CategoryFlagMismatchTranscript = "flag_mismatch_transcript"
	CategoryFlagMismatchVectors    = "flag_mismatch_vectors"
	CategoryStuckJobs              = "stuck_jobs"
	CategoryOrphanTranscripts      = "orphan_transcripts"
	CategoryOrphanVectors          = "orphan_vectors"
	CategoryOrphanJobs             = "orphan_jobs"
	CategoryDuplicateJobs          = "duplicate_jobs"
	CategoryDuplicateVectorSets    = "duplicate_vector_sets"
	CategoryInactiveJobs           = "inactive_jobs"
	CategoryInactiveVectors        = "inactive_vectors"
	CategoryExpiredApprovals       = "expired_approvals"
	CategoryMissingJobs            = "missing_jobs"
	CategoryPurgedJobs             = "purged_jobs"
)

// Categories lists every report category in the order the reconciler runs them.
var Categories = []string{
	CategoryFlagMismatchTranscript,
	CategoryFlagMismatchVectors,
	CategoryStuckJobs,
	CategoryOrphanTranscripts,
	CategoryOrphanVectors,
	CategoryOrphanJobs,
	CategoryDuplicateJobs,
	CategoryDuplicateVectorSets,
	CategoryInactiveJobs,
	CategoryInactiveVectors,
	CategoryExpiredApprovals,
	CategoryMissingJobs,
	CategoryPurgedJobs,
}

// CategoryCount is the number of inconsistencies found and repaired.
type CategoryCount struct {
	Found int `json:"found"`
	Fixed int `json:"fixed"`
}

// ConsistencyReport is the outcome of one reconciler pass.
type ConsistencyReport struct {
	ID         uuid.UUID                `db:"id"          json:"id"`
	StartedAt  time.Time                `db:"started_at"  json:"started_at"`
	FinishedAt time.Time                `db:"finished_at" json:"finished_at"`
	Categories map[string]CategoryCount `db:"categories"  json:"categories"`
	Errors     []string                 `db:"errors"      json:"errors,omitempty"`
}

// NewConsistencyReport returns a report with every category zeroed.
func NewConsistencyReport(started time.Time) *ConsistencyReport {
	r := &ConsistencyReport{
		ID:         uuid.New(),
		StartedAt:  started,
		Categories: make(map[string]CategoryCount, len(Categories)),
	}
	for _, c := range Categories {
		r.Categories[c] = CategoryCount{}
	}
	return r
}

// Add accumulates found/fixed counts into category.
func (r *ConsistencyReport) Add(category string, found, fixed int) {
	c := r.Categories[category]
	c.Found += found
	c.Fixed += fixed
	r.Categories[category] = c
}

// TotalFound sums Found across categories.
func (r *ConsistencyReport) TotalFound() int {
	n := 0
	for _, c := range r.Categories {
		n += c.Found
	}
	return n
}

// Clean reports whether nothing was found and no step errored.
func (r *ConsistencyReport) Clean() bool {
	return r.TotalFound() == 0 && len(r.Errors) == 0
}

package models

import "time"

// FailureGroup collapses failed jobs whose error messages differ only in
// volatile tokens such as ids, timestamps and counters.
type FailureGroup struct {
	Fingerprint   string    `json:"fingerprint"`
	Kind          JobKind   `json:"kind"`
	ErrorKind     ErrorKind `json:"error_kind"`
	Count         int       `json:"count"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	SampleMessage string    `json:"sample_message"`
	ContentIDs    []int64   `json:"content_ids"`
}

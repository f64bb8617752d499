// Package models contains shared data models used across the castkeeper codebase.
package models

import "time"

// ContentItem is a single video in the catalog. The catalog is authoritative
// for existence and activity; has_transcript and has_vectors are derived
// caches that the reconciler keeps in step with the dependent stores.
type ContentItem struct {
	ID              int64     `db:"id"               json:"id"`
	Title           string    `db:"title"            json:"title"`
	DurationSeconds float64   `db:"duration_seconds" json:"duration_seconds"`
	SourceURL       string    `db:"source_url"       json:"source_url"`
	IsActive        bool      `db:"is_active"        json:"is_active"`
	HasTranscript   bool      `db:"has_transcript"   json:"has_transcript"`
	HasVectors      bool      `db:"has_vectors"      json:"has_vectors"`
	CreatedAt       time.Time `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"       json:"updated_at"`
}

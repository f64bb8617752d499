package models

// Segment is a timed span of recognized speech as returned by an engine.
// Times are in seconds from the start of the audio the engine was given.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Duration returns End - Start.
func (s Segment) Duration() float64 { return s.End - s.Start }

// TranscriptSegment is a stored segment of a content item's transcript.
type TranscriptSegment struct {
	ContentID int64   `db:"content_id"    json:"content_id"`
	Order     int     `db:"segment_order" json:"order"`
	Start     float64 `db:"start_time"    json:"start"`
	End       float64 `db:"end_time"      json:"end"`
	Text      string  `db:"text"          json:"text"`
}

// Chunk is a group of consecutive transcript segments prepared for embedding.
type Chunk struct {
	Order int     `json:"order"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// VectorEntry is one embedded chunk in the vector index.
type VectorEntry struct {
	ContentID int64     `json:"content_id"`
	Order     int       `json:"order"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
}

// Package chunking groups transcript segments into chunks for embedding.
// The grouping policy is pluggable; Validate enforces the contract every
// policy must meet.
package chunking

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// Chunker turns an ordered transcript into ordered chunks.
type Chunker interface {
	Chunk(segments []models.TranscriptSegment) ([]models.Chunk, error)
}

// ChunkerFunc adapts a function to Chunker.
type ChunkerFunc func(segments []models.TranscriptSegment) ([]models.Chunk, error)

func (f ChunkerFunc) Chunk(segments []models.TranscriptSegment) ([]models.Chunk, error) {
	return f(segments)
}

// DefaultMaxChars is the default chunk size target.
const DefaultMaxChars = 1000

// SegmentChunker packs whole segments into chunks of up to MaxChars
// characters. A single segment longer than MaxChars becomes its own chunk.
type SegmentChunker struct {
	MaxChars int
}

func NewSegmentChunker(maxChars int) *SegmentChunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &SegmentChunker{MaxChars: maxChars}
}

func (c *SegmentChunker) Chunk(segments []models.TranscriptSegment) ([]models.Chunk, error) {
	var chunks []models.Chunk
	var texts []string
	size := 0
	start := 0.0
	if len(segments) > 0 {
		start = segments[0].Start
	}
	end := start

	flush := func() {
		if len(texts) == 0 {
			return
		}
		chunks = append(chunks, models.Chunk{
			Order: len(chunks),
			Start: start,
			End:   end,
			Text:  strings.Join(texts, " "),
		})
		start = end
		texts = texts[:0]
		size = 0
	}

	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			end = math.Max(end, s.End)
			continue
		}
		if size > 0 && size+1+len(text) > c.MaxChars {
			flush()
		}
		texts = append(texts, text)
		if size > 0 {
			size++
		}
		size += len(text)
		end = math.Max(end, s.End)
	}
	flush()
	if len(chunks) > 0 {
		chunks[len(chunks)-1].End = end
	}
	return chunks, nil
}

var ErrContract = errors.New("chunker contract violated")

// epsilon tolerates float drift in chunk boundaries.
const epsilon = 1e-6

// Validate checks chunks against the transcript they were built from: orders
// run 0..n-1, every chunk has text, consecutive chunks share a boundary, and
// together they span the transcript.
func Validate(chunks []models.Chunk, segments []models.TranscriptSegment) error {
	if len(segments) == 0 {
		if len(chunks) != 0 {
			return fmt.Errorf("%w: %d chunks for an empty transcript", ErrContract, len(chunks))
		}
		return nil
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no chunks for %d segments", ErrContract, len(segments))
	}

	for i, c := range chunks {
		if c.Order != i {
			return fmt.Errorf("%w: chunk %d has order %d", ErrContract, i, c.Order)
		}
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("%w: chunk %d is empty", ErrContract, i)
		}
		if c.End < c.Start {
			return fmt.Errorf("%w: chunk %d ends before it starts", ErrContract, i)
		}
		if i > 0 && math.Abs(c.Start-chunks[i-1].End) > epsilon {
			return fmt.Errorf("%w: gap or overlap between chunk %d (end %g) and %d (start %g)",
				ErrContract, i-1, chunks[i-1].End, i, c.Start)
		}
	}

	first, last := segments[0], segments[len(segments)-1]
	if chunks[0].Start > first.Start+epsilon {
		return fmt.Errorf("%w: chunks start at %g after transcript start %g", ErrContract, chunks[0].Start, first.Start)
	}
	if chunks[len(chunks)-1].End < last.End-epsilon {
		return fmt.Errorf("%w: chunks end at %g before transcript end %g", ErrContract, chunks[len(chunks)-1].End, last.End)
	}
	return nil
}

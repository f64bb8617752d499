// Package mock provides configurable engines for tests.
package mock

import (
	"context"
	"sync/atomic"

	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// Transcriber satisfies models.PaidTranscriber.
type Transcriber struct {
	Name_          string
	TranscribeFunc func(ctx context.Context, req models.TranscriptionRequest) ([]models.Segment, error)
	// CostPerSecond prices EstimateTranscriptionCost.
	CostPerSecond float64

	calls atomic.Int64
}

func (m *Transcriber) Name() string { return m.Name_ }

func (m *Transcriber) Transcribe(ctx context.Context, req models.TranscriptionRequest) ([]models.Segment, error) {
	m.calls.Add(1)
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, req)
	}
	return nil, nil
}

func (m *Transcriber) EstimateTranscriptionCost(durationSeconds float64) float64 {
	return durationSeconds * m.CostPerSecond
}

// Calls returns how many times Transcribe ran.
func (m *Transcriber) Calls() int { return int(m.calls.Load()) }

// Embedder satisfies models.PaidEmbedder.
type Embedder struct {
	Name_     string
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)
	// CostPerChar prices EstimateEmbeddingCost.
	CostPerChar float64

	calls atomic.Int64
}

func (m *Embedder) Name() string { return m.Name_ }

func (m *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}
	return nil, nil
}

func (m *Embedder) EstimateEmbeddingCost(chars int) float64 {
	return float64(chars) * m.CostPerChar
}

func (m *Embedder) Calls() int { return int(m.calls.Load()) }

// NewTranscriber returns a Transcriber that emits one segment per ten
// seconds of requested duration.
func NewTranscriber(name string) *Transcriber {
	return &Transcriber{
		Name_: name,
		TranscribeFunc: func(_ context.Context, req models.TranscriptionRequest) ([]models.Segment, error) {
			var segs []models.Segment
			for t := 0.0; t < req.DurationSeconds; t += 10 {
				segs = append(segs, models.Segment{Start: t, End: min(t+10, req.DurationSeconds), Text: "words"})
			}
			return segs, nil
		},
	}
}

// NewEmbedder returns an Embedder producing vectors of the given dimension.
func NewEmbedder(name string, dims int) *Embedder {
	return &Embedder{
		Name_: name,
		EmbedFunc: func(_ context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i, t := range texts {
				v := make([]float32, dims)
				v[0] = float32(len(t))
				out[i] = v
			}
			return out, nil
		},
	}
}

// NewFailingTranscriber returns a Transcriber that always returns err.
func NewFailingTranscriber(name string, err error) *Transcriber {
	return &Transcriber{
		Name_: name,
		TranscribeFunc: func(context.Context, models.TranscriptionRequest) ([]models.Segment, error) {
			return nil, err
		},
	}
}

func NewFailingEmbedder(name string, err error) *Embedder {
	return &Embedder{
		Name_: name,
		EmbedFunc: func(context.Context, []string) ([][]float32, error) {
			return nil, err
		},
	}
}

var (
	_ models.PaidTranscriber = (*Transcriber)(nil)
	_ models.PaidEmbedder    = (*Embedder)(nil)
)

package models

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrEngineTimeout     = errors.New("engine timeout")
	ErrInvalidResponse   = errors.New("engine returned invalid response")
)

// TranscriptionRequest is the input to a transcription engine.
type TranscriptionRequest struct {
	AudioPath       string
	DurationSeconds float64
	Language        string
}

// Transcriber turns audio into timed segments.
// Never call a specific engine directly; inject this interface.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) ([]Segment, error)
	// Name returns the engine identifier (e.g., "whisper", "gemini").
	Name() string
}

// Embedder turns texts into vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// PaidTranscriber is a Transcriber billed per call. Calls must pass the cost gate.
type PaidTranscriber interface {
	Transcriber
	EstimateTranscriptionCost(durationSeconds float64) float64
}

// PaidEmbedder is an Embedder billed per call.
type PaidEmbedder interface {
	Embedder
	EstimateEmbeddingCost(chars int) float64
}

// ClassifyEngineError maps transport-level errors to the engine sentinel errors.
func ClassifyEngineError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
}

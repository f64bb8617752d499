// Package engine builds the transcription and embedding engines from config.
package engine

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/castkeeper/internal/config"
	"github.com/kiranshivaraju/castkeeper/internal/engine/embedserver"
	"github.com/kiranshivaraju/castkeeper/internal/engine/gemini"
	"github.com/kiranshivaraju/castkeeper/internal/engine/whisper"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// Set is the engines available to the worker pool. Local engines are tried
// first; a nil paid engine disables the fallback for that stage.
type Set struct {
	LocalTranscriber models.Transcriber
	PaidTranscriber  models.PaidTranscriber
	LocalEmbedder    models.Embedder
	PaidEmbedder     models.PaidEmbedder

	closers []func() error
}

// NewSet constructs the engines from config. Called once at server startup.
func NewSet(ctx context.Context, cfg *config.Config) (*Set, error) {
	s := &Set{}
	if cfg.Engines.Whisper.BaseURL != "" {
		s.LocalTranscriber = whisper.NewClient(cfg.Engines.Whisper, cfg.Worker.LocalTimeout)
	}
	if cfg.Engines.EmbedServer.BaseURL != "" {
		s.LocalEmbedder = embedserver.NewClient(cfg.Engines.EmbedServer, cfg.Worker.LocalTimeout)
	}
	if cfg.Engines.Gemini.APIKey != "" {
		client, err := gemini.NewClient(ctx, cfg.Engines.Gemini, cfg.Cost)
		if err != nil {
			return nil, fmt.Errorf("creating paid engine: %w", err)
		}
		s.PaidTranscriber = client
		s.PaidEmbedder = client
		s.closers = append(s.closers, client.Close)
	}

	if s.LocalTranscriber == nil && s.PaidTranscriber == nil {
		return nil, fmt.Errorf("no transcription engine configured")
	}
	if s.LocalEmbedder == nil && s.PaidEmbedder == nil {
		return nil, fmt.Errorf("no embedding engine configured")
	}
	return s, nil
}

func (s *Set) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/castkeeper/internal/config"
	"github.com/kiranshivaraju/castkeeper/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() *config.Config {
	return &config.Config{
		Worker: config.WorkerConfig{LocalTimeout: time.Minute},
	}
}

func TestNewSet_LocalOnly(t *testing.T) {
	cfg := baseConfig()
	cfg.Engines.Whisper = config.WhisperConfig{BaseURL: "http://localhost:9000", Model: "large-v3"}
	cfg.Engines.EmbedServer = config.EmbedServerConfig{BaseURL: "http://localhost:11434", Model: "nomic-embed-text"}

	s, err := engine.NewSet(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	require.NotNil(t, s.LocalTranscriber)
	require.NotNil(t, s.LocalEmbedder)
	assert.Equal(t, "whisper", s.LocalTranscriber.Name())
	assert.Equal(t, "embedserver", s.LocalEmbedder.Name())
	assert.Nil(t, s.PaidTranscriber)
	assert.Nil(t, s.PaidEmbedder)
}

func TestNewSet_MissingTranscriber(t *testing.T) {
	cfg := baseConfig()
	cfg.Engines.EmbedServer = config.EmbedServerConfig{BaseURL: "http://localhost:11434"}

	_, err := engine.NewSet(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transcription")
}

func TestNewSet_MissingEmbedder(t *testing.T) {
	cfg := baseConfig()
	cfg.Engines.Whisper = config.WhisperConfig{BaseURL: "http://localhost:9000"}

	_, err := engine.NewSet(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding")
}

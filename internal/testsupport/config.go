package testsupport

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiranshivaraju/castkeeper/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig returns a valid configuration with short intervals and a spool
// directory under t.TempDir.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:               8080,
			Env:                "test",
			InstanceID:         "test",
			RateLimitPerMinute: 120,
		},
		Database: config.DatabaseConfig{
			URL:           "postgres://localhost/castkeeper_test",
			MaxOpenConns:  5,
			MigrationsDir: "migrations/jobs",
		},
		VectorDB: config.VectorDBConfig{
			URL:           "postgres://localhost/castkeeper_vectors_test",
			MaxOpenConns:  5,
			MigrationsDir: "migrations/vector",
			Model:         "test-embed",
			Dimensions:    3,
		},
		Redis: config.RedisConfig{URL: "redis://localhost:6379"},
		Worker: config.WorkerConfig{
			TranscribeWorkers: 1,
			EmbedWorkers:      1,
			PollInterval:      10 * time.Millisecond,
			PollMaxInterval:   50 * time.Millisecond,
			HeartbeatInterval: 20 * time.Millisecond,
			StallTimeout:      time.Minute,
			MaxRetries:        3,
			LocalTimeout:      5 * time.Second,
			ShutdownGrace:     time.Second,
			SpoolDir:          filepath.Join(t.TempDir(), "spool"),
			FetchTimeout:      5 * time.Second,
		},
		Transcribe: config.TranscribeConfig{
			WindowSeconds:   600,
			OverlapSeconds:  10,
			LocalMaxSeconds: 900,
			ParallelWindows: 1,
			Language:        "en",
			FFmpegPath:      "ffmpeg",
		},
		Cost: config.CostConfig{
			PerItemCeiling:         2,
			DailyCeiling:           10,
			MonthlyCeiling:         100,
			AutoApproveThreshold:   0.5,
			ApprovalTimeout:        time.Minute,
			ApprovalPollInterval:   10 * time.Millisecond,
			TranscriptionPerMinute: 0.006,
			EmbeddingPer1KChars:    0.0001,
		},
		Reconcile: config.ReconcileConfig{
			Interval: time.Minute,
			LeaseTTL: time.Minute,

			JobRetention: 7 * 24 * time.Hour,
		},
	}

	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithCost overrides the cost ceilings.
func WithCost(perItem, daily, monthly, autoApprove float64) ConfigOption {
	return func(c *config.Config) {
		c.Cost.PerItemCeiling = perItem
		c.Cost.DailyCeiling = daily
		c.Cost.MonthlyCeiling = monthly
		c.Cost.AutoApproveThreshold = autoApprove
	}
}

// WithApprovalTimeout overrides how long the gate waits for an operator.
func WithApprovalTimeout(d time.Duration) ConfigOption {
	return func(c *config.Config) {
		c.Cost.ApprovalTimeout = d
	}
}

// Logger returns a logger that discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all configuration for the castkeeper server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	VectorDB   VectorDBConfig
	Redis      RedisConfig
	Worker     WorkerConfig
	Transcribe TranscribeConfig
	Cost       CostConfig
	Reconcile  ReconcileConfig
	Engines    EnginesConfig
}

type ServerConfig struct {
	Port               int    `validate:"min=1,max=65535"`
	Env                string `validate:"oneof=development production test"`
	InstanceID         string `validate:"required"`
	RateLimitPerMinute int    `validate:"min=0"`
}

type DatabaseConfig struct {
	URL             string `validate:"required"`
	MaxOpenConns    int    `validate:"min=1"`
	ConnMaxLifetime time.Duration
	MigrationsDir   string `validate:"required"`
}

// VectorDBConfig points at the pgvector database. It may be the same server
// as the job store but is always opened through its own pool.
type VectorDBConfig struct {
	URL           string `validate:"required"`
	MaxOpenConns  int    `validate:"min=1"`
	MigrationsDir string `validate:"required"`
	Model         string `validate:"required"`
	Dimensions    int    `validate:"min=1,max=16000"`
}

type RedisConfig struct {
	URL string `validate:"required"`
}

type WorkerConfig struct {
	TranscribeWorkers int           `validate:"min=0"`
	EmbedWorkers      int           `validate:"min=0"`
	PollInterval      time.Duration `validate:"gt=0"`
	PollMaxInterval   time.Duration `validate:"gt=0"`
	HeartbeatInterval time.Duration `validate:"gt=0"`
	StallTimeout      time.Duration `validate:"gt=0"`
	MaxRetries        int           `validate:"min=0"`
	LocalTimeout      time.Duration `validate:"gt=0"`
	ShutdownGrace     time.Duration `validate:"gte=0"`
	SpoolDir          string        `validate:"required"`
	MediaBaseURL      string
	FetchTimeout      time.Duration `validate:"gt=0"`
}

type TranscribeConfig struct {
	WindowSeconds   float64 `validate:"gt=0"`
	OverlapSeconds  float64 `validate:"gte=0"`
	LocalMaxSeconds float64 `validate:"gt=0"`
	ParallelWindows int     `validate:"min=1"`
	Language        string
	FFmpegPath      string `validate:"required"`
}

// CostConfig holds ceilings and prices in dollars.
type CostConfig struct {
	PerItemCeiling         float64       `validate:"gt=0"`
	DailyCeiling           float64       `validate:"gt=0"`
	MonthlyCeiling         float64       `validate:"gt=0"`
	AutoApproveThreshold   float64       `validate:"gte=0"`
	ApprovalTimeout        time.Duration `validate:"gt=0"`
	ApprovalPollInterval   time.Duration `validate:"gt=0"`
	TranscriptionPerMinute float64       `validate:"gte=0"`
	EmbeddingPer1KChars    float64       `validate:"gte=0"`
}

type ReconcileConfig struct {
	Interval time.Duration `validate:"gt=0"`
	LeaseTTL time.Duration `validate:"gt=0"`

	// JobRetention is how long completed and cancelled jobs are kept.
	// Zero keeps them forever.
	JobRetention time.Duration `validate:"gte=0"`
}

type EnginesConfig struct {
	Whisper     WhisperConfig
	EmbedServer EmbedServerConfig
	Gemini      GeminiConfig
}

// WhisperConfig configures the local transcription server. An empty BaseURL
// disables the local engine and sends every job to the paid fallback.
type WhisperConfig struct {
	BaseURL string
	Model   string
}

type EmbedServerConfig struct {
	BaseURL string
	Model   string
}

// GeminiConfig configures the paid fallback. An empty APIKey disables it.
type GeminiConfig struct {
	APIKey          string
	TranscribeModel string
	EmbedModel      string
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "castkeeper"
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("CASTKEEPER_PORT", 8080),
			Env:                envString("CASTKEEPER_ENV", "development"),
			InstanceID:         envString("CASTKEEPER_INSTANCE_ID", hostname),
			RateLimitPerMinute: envInt("CASTKEEPER_RATE_LIMIT_PER_MINUTE", 120),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations/jobs"),
		},
		VectorDB: VectorDBConfig{
			URL:           os.Getenv("VECTOR_DATABASE_URL"),
			MaxOpenConns:  envInt("VECTOR_DATABASE_MAX_OPEN_CONNS", 10),
			MigrationsDir: envString("VECTOR_DATABASE_MIGRATIONS_DIR", "migrations/vector"),
			Model:         envString("EMBEDDING_MODEL", "nomic-embed-text"),
			Dimensions:    envInt("EMBEDDING_DIMENSIONS", 768),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Worker: WorkerConfig{
			TranscribeWorkers: envInt("TRANSCRIBE_WORKERS", 2),
			EmbedWorkers:      envInt("EMBED_WORKERS", 2),
			PollInterval:      envDuration("WORKER_POLL_INTERVAL", time.Second),
			PollMaxInterval:   envDuration("WORKER_POLL_MAX_INTERVAL", 30*time.Second),
			HeartbeatInterval: envDuration("WORKER_HEARTBEAT_INTERVAL", 30*time.Second),
			StallTimeout:      envDuration("JOB_STALL_TIMEOUT", 30*time.Minute),
			MaxRetries:        envInt("JOB_MAX_RETRIES", 3),
			LocalTimeout:      envDurationSecs("LOCAL_ENGINE_TIMEOUT_SECS", 20*time.Minute),
			ShutdownGrace:     envDuration("SHUTDOWN_GRACE", 30*time.Second),
			SpoolDir:          envString("MEDIA_SPOOL_DIR", os.TempDir()+"/castkeeper-spool"),
			MediaBaseURL:      os.Getenv("MEDIA_BASE_URL"),
			FetchTimeout:      envDuration("MEDIA_FETCH_TIMEOUT", 10*time.Minute),
		},
		Transcribe: TranscribeConfig{
			WindowSeconds:   envFloat("WINDOW_SECONDS", 600),
			OverlapSeconds:  envFloat("WINDOW_OVERLAP_SECONDS", 10),
			LocalMaxSeconds: envFloat("LOCAL_MAX_AUDIO_SECONDS", 900),
			ParallelWindows: envInt("PARALLEL_WINDOWS", 1),
			Language:        envString("TRANSCRIBE_LANGUAGE", "en"),
			FFmpegPath:      envString("FFMPEG_PATH", "ffmpeg"),
		},
		Cost: CostConfig{
			PerItemCeiling:         envFloat("COST_PER_ITEM_CEILING", 2.0),
			DailyCeiling:           envFloat("COST_DAILY_CEILING", 10.0),
			MonthlyCeiling:         envFloat("COST_MONTHLY_CEILING", 100.0),
			AutoApproveThreshold:   envFloat("COST_AUTO_APPROVE_THRESHOLD", 0.50),
			ApprovalTimeout:        envDuration("COST_APPROVAL_TIMEOUT", time.Hour),
			ApprovalPollInterval:   envDuration("COST_APPROVAL_POLL_INTERVAL", 5*time.Second),
			TranscriptionPerMinute: envFloat("COST_TRANSCRIPTION_PER_MINUTE", 0.006),
			EmbeddingPer1KChars:    envFloat("COST_EMBEDDING_PER_1K_CHARS", 0.0001),
		},
		Reconcile: ReconcileConfig{
			Interval: envDuration("RECONCILE_INTERVAL", 15*time.Minute),
			LeaseTTL: envDuration("RECONCILE_LEASE_TTL", 10*time.Minute),

			JobRetention: envDuration("JOB_RETENTION", 7*24*time.Hour),
		},
		Engines: EnginesConfig{
			Whisper: WhisperConfig{
				BaseURL: os.Getenv("WHISPER_BASE_URL"),
				Model:   envString("WHISPER_MODEL", "large-v3"),
			},
			EmbedServer: EmbedServerConfig{
				BaseURL: os.Getenv("EMBED_SERVER_BASE_URL"),
				Model:   envString("EMBED_SERVER_MODEL", "nomic-embed-text"),
			},
			Gemini: GeminiConfig{
				APIKey:          os.Getenv("GEMINI_API_KEY"),
				TranscribeModel: envString("GEMINI_TRANSCRIBE_MODEL", "gemini-1.5-flash"),
				EmbedModel:      envString("GEMINI_EMBED_MODEL", "text-embedding-004"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validate = validator.New()

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.VectorDB.URL == "" {
		return fmt.Errorf("VECTOR_DATABASE_URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	for name, u := range map[string]string{
		"WHISPER_BASE_URL":      c.Engines.Whisper.BaseURL,
		"EMBED_SERVER_BASE_URL": c.Engines.EmbedServer.BaseURL,
		"MEDIA_BASE_URL":        c.Worker.MediaBaseURL,
	} {
		if u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, u)
		}
	}

	if c.Transcribe.OverlapSeconds >= c.Transcribe.WindowSeconds {
		return fmt.Errorf("WINDOW_OVERLAP_SECONDS (%g) must be smaller than WINDOW_SECONDS (%g)",
			c.Transcribe.OverlapSeconds, c.Transcribe.WindowSeconds)
	}
	if c.Cost.AutoApproveThreshold > c.Cost.PerItemCeiling {
		return fmt.Errorf("COST_AUTO_APPROVE_THRESHOLD must not exceed COST_PER_ITEM_CEILING")
	}
	if c.Cost.DailyCeiling > c.Cost.MonthlyCeiling {
		return fmt.Errorf("COST_DAILY_CEILING must not exceed COST_MONTHLY_CEILING")
	}
	if c.Worker.PollMaxInterval < c.Worker.PollInterval {
		return fmt.Errorf("WORKER_POLL_MAX_INTERVAL must be at least WORKER_POLL_INTERVAL")
	}
	if c.Worker.HeartbeatInterval >= c.Worker.StallTimeout {
		return fmt.Errorf("WORKER_HEARTBEAT_INTERVAL must be shorter than JOB_STALL_TIMEOUT")
	}
	if c.Worker.TranscribeWorkers+c.Worker.EmbedWorkers == 0 {
		return fmt.Errorf("at least one of TRANSCRIBE_WORKERS or EMBED_WORKERS must be positive")
	}
	if c.Engines.Whisper.BaseURL == "" && c.Engines.Gemini.APIKey == "" {
		return fmt.Errorf("WHISPER_BASE_URL or GEMINI_API_KEY is required")
	}
	if c.Engines.EmbedServer.BaseURL == "" && c.Engines.Gemini.APIKey == "" {
		return fmt.Errorf("EMBED_SERVER_BASE_URL or GEMINI_API_KEY is required")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

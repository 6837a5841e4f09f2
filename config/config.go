package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/subosito/gotenv"
)

// Config holds everything the pipeline needs at runtime. Values load from
// config.json when present, then environment variables override
// field-by-field. A .env file is honored for local development.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DataRoot   string `json:"data_root"`

	// Provider selection per capability.
	VisualProvider    string `json:"visual_provider"`    // "mock", "rekognition"
	SpeechProvider    string `json:"speech_provider"`    // "mock", "transcribe"
	SentimentProvider string `json:"sentiment_provider"` // "vader", "comprehend"
	ReasoningProvider string `json:"reasoning_provider"` // "mock", "openai", "bedrock"

	// Store backend: "memory", "sqlite", "postgres".
	StoreBackend string `json:"store_backend"`
	SQLitePath   string `json:"sqlite_path"`
	PostgresURL  string `json:"postgres_url"`

	// OpenAI-compatible reasoning endpoint.
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url"`
	ChatModel string `json:"chat_model"`

	// AWS providers.
	AWSRegion    string `json:"aws_region"`
	S3Bucket     string `json:"s3_bucket"`
	BedrockModel string `json:"bedrock_model"`

	// Ingest ceilings.
	MaxUploadBytes  int64   `json:"max_upload_bytes"`
	MaxDurationSec  float64 `json:"max_duration_sec"`
	DefaultLanguage string  `json:"default_language"`

	// Orchestration.
	PollInterval   time.Duration `json:"-"`
	PollIntervalMS int           `json:"poll_interval_ms"`
	MaxJobAttempts int           `json:"max_job_attempts"`
	BackoffBase    time.Duration `json:"-"`
	BackoffBaseMS  int           `json:"backoff_base_ms"`
	BackoffCap     time.Duration `json:"-"`
	BackoffCapMS   int           `json:"backoff_cap_ms"`
	JobTimeoutSec  int           `json:"job_timeout_sec"`

	// Fusion.
	MaxSchemaRepairs int `json:"max_schema_repairs"`

	// Evidence selection.
	FramesPerWindow  int     `json:"frames_per_window"`
	FrameSpacingSec  float64 `json:"frame_spacing_sec"`
	AdjacencyGapSec  float64 `json:"adjacency_gap_sec"`
}

var globalConfig *Config

// Load reads config.json if present, applies env overrides, and fills
// defaults. Repeated calls return the same instance.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	_ = gotenv.Load() // optional .env, OS environment wins elsewhere

	cfg := defaults()
	if data, err := os.ReadFile("config.json"); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config.json: %w", err)
		}
	}
	applyEnv(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	globalConfig = cfg
	return globalConfig, nil
}

// Reset clears the cached config (tests).
func Reset() { globalConfig = nil }

func defaults() *Config {
	return &Config{
		ListenAddr:        ":8080",
		DataRoot:          "./data",
		VisualProvider:    "mock",
		SpeechProvider:    "mock",
		SentimentProvider: "vader",
		ReasoningProvider: "mock",
		StoreBackend:      "memory",
		SQLitePath:        "./data/triage.db",
		BaseURL:           "https://api.openai.com/v1",
		ChatModel:         "gpt-4o-mini",
		AWSRegion:         "us-east-1",
		BedrockModel:      "anthropic.claude-3-haiku-20240307-v1:0",
		MaxUploadBytes:    2 << 30,
		MaxDurationSec:    1800,
		DefaultLanguage:   "pt-BR",
		PollIntervalMS:    2000,
		MaxJobAttempts:    3,
		BackoffBaseMS:     2000,
		BackoffCapMS:      60000,
		JobTimeoutSec:     900,
		MaxSchemaRepairs:  2,
		FramesPerWindow:   3,
		FrameSpacingSec:   2.0,
		AdjacencyGapSec:   1.0,
	}
}

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setStr(&cfg.ListenAddr, "LISTEN_ADDR")
	setStr(&cfg.DataRoot, "DATA_ROOT")
	setStr(&cfg.VisualProvider, "VISUAL_PROVIDER")
	setStr(&cfg.SpeechProvider, "SPEECH_PROVIDER")
	setStr(&cfg.SentimentProvider, "SENTIMENT_PROVIDER")
	setStr(&cfg.ReasoningProvider, "REASONING_PROVIDER")
	setStr(&cfg.StoreBackend, "STORE")
	setStr(&cfg.SQLitePath, "SQLITE_PATH")
	setStr(&cfg.PostgresURL, "POSTGRES_URL")
	setStr(&cfg.APIKey, "API_KEY")
	setStr(&cfg.BaseURL, "BASE_URL")
	setStr(&cfg.ChatModel, "CHAT_MODEL")
	setStr(&cfg.AWSRegion, "AWS_REGION")
	setStr(&cfg.S3Bucket, "S3_BUCKET")
	setStr(&cfg.BedrockModel, "BEDROCK_MODEL")
	setStr(&cfg.DefaultLanguage, "DEFAULT_LANGUAGE")
	setInt(&cfg.PollIntervalMS, "POLL_INTERVAL_MS")
	setInt(&cfg.MaxJobAttempts, "MAX_JOB_ATTEMPTS")
	setInt(&cfg.JobTimeoutSec, "JOB_TIMEOUT_SEC")
	setInt(&cfg.MaxSchemaRepairs, "MAX_SCHEMA_REPAIRS")
	setInt(&cfg.FramesPerWindow, "FRAMES_PER_WINDOW")
}

func (c *Config) normalize() {
	c.PollInterval = time.Duration(c.PollIntervalMS) * time.Millisecond
	c.BackoffBase = time.Duration(c.BackoffBaseMS) * time.Millisecond
	c.BackoffCap = time.Duration(c.BackoffCapMS) * time.Millisecond
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string

	switch c.StoreBackend {
	case "memory", "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("unknown store backend %q", c.StoreBackend))
	}
	if c.StoreBackend == "postgres" && c.PostgresURL == "" {
		problems = append(problems, "postgres store requires POSTGRES_URL")
	}
	if c.ReasoningProvider == "openai" && c.APIKey == "" {
		problems = append(problems, "openai reasoning requires API_KEY")
	}
	if (c.VisualProvider == "rekognition" || c.SpeechProvider == "transcribe") && c.S3Bucket == "" {
		problems = append(problems, "AWS providers require S3_BUCKET")
	}
	if c.MaxJobAttempts < 1 {
		problems = append(problems, "max_job_attempts must be >= 1")
	}
	if c.FramesPerWindow < 1 {
		problems = append(problems, "frames_per_window must be >= 1")
	}
	if c.FrameSpacingSec <= 0 {
		problems = append(problems, "frame_spacing_sec must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()
	cfg.normalize()

	if cfg.VisualProvider != "mock" || cfg.SentimentProvider != "vader" {
		t.Errorf("default providers = %s/%s", cfg.VisualProvider, cfg.SentimentProvider)
	}
	if cfg.StoreBackend != "memory" {
		t.Errorf("default store = %s", cfg.StoreBackend)
	}
	if cfg.DefaultLanguage != "pt-BR" {
		t.Errorf("default language = %s", cfg.DefaultLanguage)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("poll interval = %s", cfg.PollInterval)
	}
	if cfg.MaxJobAttempts != 3 || cfg.MaxSchemaRepairs != 2 {
		t.Errorf("budgets = %d attempts, %d repairs", cfg.MaxJobAttempts, cfg.MaxSchemaRepairs)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STORE", "sqlite")
	t.Setenv("DEFAULT_LANGUAGE", "en-US")
	t.Setenv("MAX_JOB_ATTEMPTS", "5")
	t.Setenv("POLL_INTERVAL_MS", "500")

	cfg := defaults()
	applyEnv(cfg)
	cfg.normalize()

	if cfg.StoreBackend != "sqlite" {
		t.Errorf("store = %s", cfg.StoreBackend)
	}
	if cfg.DefaultLanguage != "en-US" {
		t.Errorf("language = %s", cfg.DefaultLanguage)
	}
	if cfg.MaxJobAttempts != 5 {
		t.Errorf("attempts = %d", cfg.MaxJobAttempts)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("poll interval = %s", cfg.PollInterval)
	}
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name  string
		patch func(*Config)
	}{
		{"unknownStore", func(c *Config) { c.StoreBackend = "dynamo" }},
		{"postgresWithoutURL", func(c *Config) { c.StoreBackend = "postgres" }},
		{"openaiWithoutKey", func(c *Config) { c.ReasoningProvider = "openai"; c.APIKey = "" }},
		{"awsWithoutBucket", func(c *Config) { c.VisualProvider = "rekognition"; c.S3Bucket = "" }},
		{"zeroAttempts", func(c *Config) { c.MaxJobAttempts = 0 }},
		{"zeroFrames", func(c *Config) { c.FramesPerWindow = 0 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := defaults()
			c.patch(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("broken config validated")
			}
		})
	}
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"videoTriage/config"
	"videoTriage/core"
	"videoTriage/orchestrator"
	"videoTriage/processors"
	"videoTriage/providers"
	"videoTriage/server"
	"videoTriage/storage"
)

// needsAWS reports whether the selected providers require AWS credentials.
func needsAWS(cfg *config.Config) bool {
	return cfg.VisualProvider == "rekognition" ||
		cfg.SpeechProvider == "transcribe" ||
		cfg.SentimentProvider == "comprehend" ||
		cfg.ReasoningProvider == "bedrock"
}

func buildVisual(cfg *config.Config, awsCfg aws.Config) providers.VisualProvider {
	if cfg.VisualProvider == "rekognition" {
		return providers.NewRekognitionVisual(awsCfg, cfg.S3Bucket)
	}
	return &providers.MockVisual{}
}

func buildSpeech(cfg *config.Config, awsCfg aws.Config) providers.SpeechProvider {
	if cfg.SpeechProvider == "transcribe" {
		return providers.NewTranscribeSpeech(awsCfg, cfg.S3Bucket)
	}
	return &providers.MockSpeech{}
}

func buildSentiment(cfg *config.Config, awsCfg aws.Config) providers.SentimentProvider {
	if cfg.SentimentProvider == "comprehend" {
		return providers.NewComprehendSentiment(awsCfg)
	}
	return providers.NewVaderSentiment()
}

func buildReasoning(cfg *config.Config, awsCfg aws.Config) providers.ReasoningProvider {
	switch cfg.ReasoningProvider {
	case "openai":
		return providers.NewOpenAIReasoning(cfg.APIKey, cfg.BaseURL, cfg.ChatModel)
	case "bedrock":
		return providers.NewBedrockReasoning(awsCfg, cfg.BedrockModel)
	}
	return &providers.MockReasoning{}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}
	config.InitLogger()

	core.SetDataRoot(cfg.DataRoot)
	if err := os.MkdirAll(core.DataRoot(), 0o755); err != nil {
		slog.Error("data dir creation failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var awsCfg aws.Config
	if needsAWS(cfg) {
		awsCfg, err = providers.GetAWSConfig(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("AWS config load failed", "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.Open(ctx, cfg.StoreBackend, cfg.SQLitePath, cfg.PostgresURL)
	if err != nil {
		slog.Error("store init failed", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("store initialized", "backend", cfg.StoreBackend)

	adapters := orchestrator.NewAdapters(
		buildVisual(cfg, awsCfg),
		buildSpeech(cfg, awsCfg),
		buildSentiment(cfg, awsCfg),
		store)

	orch := orchestrator.New(store, adapters, orchestrator.DefaultGraph(),
		&processors.FFmpegExtractor{},
		&processors.Aggregator{AdjacencyGapSec: cfg.AdjacencyGapSec},
		&processors.FusionEngine{
			Provider:   buildReasoning(cfg, awsCfg),
			MaxRepairs: cfg.MaxSchemaRepairs,
		},
		&processors.EvidenceSelector{
			Grabber:         &processors.FFmpegGrabber{},
			FramesPerWindow: cfg.FramesPerWindow,
			MinSpacingSec:   cfg.FrameSpacingSec,
		},
		orchestrator.Options{
			MaxJobAttempts: cfg.MaxJobAttempts,
			BackoffBase:    cfg.BackoffBase,
			BackoffCap:     cfg.BackoffCap,
			JobTimeout:     time.Duration(cfg.JobTimeoutSec) * time.Second,
		})

	runner := &orchestrator.Runner{Store: store, Orch: orch, Interval: cfg.PollInterval}
	go runner.Run(ctx)

	srv := &server.Server{
		Store: store,
		Gate: &processors.Gate{
			Prober:         &processors.FFProbe{},
			MaxUploadBytes: cfg.MaxUploadBytes,
			MaxDurationSec: cfg.MaxDurationSec,
		},
		Orch:            orch,
		DefaultLanguage: cfg.DefaultLanguage,
	}

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("listening", "addr", cfg.ListenAddr,
		"visual", cfg.VisualProvider, "speech", cfg.SpeechProvider,
		"sentiment", cfg.SentimentProvider, "reasoning", cfg.ReasoningProvider)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

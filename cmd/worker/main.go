package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/infra"
	"server/internal/pipeline"
	"server/internal/pipeline/stages"
	"server/internal/providers/llm"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("worker: DATABASE_URL is required; the in-memory store cannot be shared across processes")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	store := repo.NewJobRepository(infra.NewSQLRunner(pool, logger))

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	model := newCompleter(cfg, logger)

	policy := pipeline.DefaultPolicy().WithRetryCeiling(cfg.StageRetryCeiling)
	limiter := pipeline.NewLimiter(cfg.GlobalConcurrency, cfg.TenantConcurrency)
	orch := pipeline.NewOrchestrator(store, stages.NewRegistry(model, fileStore), policy, limiter, logger)
	workerPool := pipeline.NewPool(store, orch, logger, cfg.PoolSize, cfg.DispatchBatch, cfg.PollInterval)

	workerPool.Run(ctx)
	logger.Info().Msg("worker: stopped")
}

func newCompleter(cfg *infra.Config, logger infra.Logger) llm.Completer {
	if strings.EqualFold(cfg.LLMProvider, "openai") {
		model, err := llm.NewOpenAI(llm.OpenAIOptions{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		})
		if err == nil {
			return model
		}
		logger.Warn().Err(err).Msg("openai provider unavailable, falling back to gemini")
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		logger.Warn().Str("model", cfg.GeminiModel).Msg("gemini api key missing, using synthetic completions")
	}
	return llm.NewGemini(llm.GeminiOptions{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Logger:     &logger,
	})
}

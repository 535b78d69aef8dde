package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store selection: Postgres when configured, in-memory otherwise. The
	// in-memory mode also runs the worker pool in-process, so a single binary
	// serves the whole pipeline in development.
	var store domain.JobStore
	inProcessPool := cfg.DatabaseURL == ""
	if inProcessPool {
		logger.Warn().Msg("api: DATABASE_URL not set, using in-memory store with in-process workers")
		store = repo.NewJobRepositoryMem()
	} else {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: db connection failed")
		}
		defer pool.Close()
		store = repo.NewJobRepository(infra.NewSQLRunner(pool, logger))
	}

	dispatcher := pipeline.NewDispatcher(store, logger)
	status := pipeline.NewStatusQuery(store)

	app := handlers.NewApp(dispatcher, status, logger)
	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	if inProcessPool {
		workerPool, err := buildPool(cfg, store, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: failed to configure workers")
		}
		go workerPool.Run(ctx)
	}

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: failed to shutdown server")
	}
	logger.Info().Msg("api: stopped")
}

func buildPool(cfg *infra.Config, store domain.JobStore, logger infra.Logger) (*pipeline.Pool, error) {
	fileStore, err := newFileStore(cfg)
	if err != nil {
		return nil, err
	}
	model := newCompleter(cfg, logger)

	policy := pipeline.DefaultPolicy().WithRetryCeiling(cfg.StageRetryCeiling)
	limiter := pipeline.NewLimiter(cfg.GlobalConcurrency, cfg.TenantConcurrency)
	orch := pipeline.NewOrchestrator(store, stages.NewRegistry(model, fileStore), policy, limiter, logger)
	return pipeline.NewPool(store, orch, logger, cfg.PoolSize, cfg.DispatchBatch, cfg.PollInterval), nil
}

func newFileStore(cfg *infra.Config) (*storage.FileStore, error) {
	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	return storage.NewFileStore(storagePath)
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

// Package main is the entrypoint for the discoveryd API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sciforge/discoveryd/internal/api"
	"github.com/sciforge/discoveryd/internal/api/handler"
	mw "github.com/sciforge/discoveryd/internal/api/middleware"
	"github.com/sciforge/discoveryd/internal/arxiv"
	"github.com/sciforge/discoveryd/internal/cache"
	"github.com/sciforge/discoveryd/internal/config"
	"github.com/sciforge/discoveryd/internal/credentials"
	"github.com/sciforge/discoveryd/internal/guard"
	"github.com/sciforge/discoveryd/internal/llm"
	"github.com/sciforge/discoveryd/internal/materials"
	"github.com/sciforge/discoveryd/internal/pipeline"
	"github.com/sciforge/discoveryd/internal/research"
	"github.com/sciforge/discoveryd/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast when invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "llm_provider", cfg.LLM.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Build the credential registry and the guarded executor
	registry, err := credentials.Load(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	executor := guard.NewExecutor(registry, cfg.Guard)
	slog.Info("credential pools loaded")

	// 6. Create the service clients
	llmClient, err := llm.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	slog.Info("LLM client initialized", "vendor", llmClient.Name())

	arxivClient := arxiv.NewHTTPClient(cfg.Arxiv.BaseURL)
	materialsClient := materials.NewHTTPClient(cfg.Materials.BaseURL)

	// 7. Create store and pipeline
	pgStore := store.NewPostgresStore(pool)

	orchestrator := pipeline.NewOrchestrator(
		pgStore, redisCache, executor,
		arxivClient,
		research.NewAnalyzer(llmClient),
		research.NewGenerator(llmClient),
		research.NewTester(materialsClient, llmClient),
		cfg.LLM.Provider,
		cfg.Pipeline,
	)
	runner := pipeline.NewRunner(orchestrator, ctx)

	// 8. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	router := api.NewRouter(api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache),

		CreateSession: handler.NewCreateSessionHandler(pgStore, runner, cfg.Pipeline, cfg.LLM.Provider),
		ListSessions:  handler.NewListSessionsHandler(pgStore),
		GetSession:    handler.NewGetSessionHandler(pgStore),
		SessionStatus: handler.NewSessionStatusHandler(pgStore, redisCache),
		SessionLogs:   handler.NewSessionLogsHandler(pgStore),
		DeleteSession: handler.NewDeleteSessionHandler(pgStore, redisCache, runner),

		Credentials: handler.NewCredentialsHandler(registry),

		CreateKey: handler.NewCreateKeyHandler(pgStore),
		ListKeys:  handler.NewListKeysHandler(pgStore),
		RevokeKey: handler.NewRevokeKeyHandler(pgStore),
	})

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown: stop accepting requests, then let the running
	// pipelines notice the canceled base context and record their state.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	runner.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

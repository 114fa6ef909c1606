// Package main is the entrypoint for the MedAIx API server.
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

	"github.com/Ariatd/medaix-backend/internal/api"
	"github.com/Ariatd/medaix-backend/internal/api/handler"
	mw "github.com/Ariatd/medaix-backend/internal/api/middleware"
	"github.com/Ariatd/medaix-backend/internal/api/response"
	"github.com/Ariatd/medaix-backend/internal/cache"
	"github.com/Ariatd/medaix-backend/internal/cleanup"
	"github.com/Ariatd/medaix-backend/internal/config"
	"github.com/Ariatd/medaix-backend/internal/inference"
	"github.com/Ariatd/medaix-backend/internal/quota"
	"github.com/Ariatd/medaix-backend/internal/storage"
	"github.com/Ariatd/medaix-backend/internal/store"
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
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "scorer_provider", cfg.Scorer.Provider, "env", cfg.Server.Env)

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

	// 5. Create scoring stages
	primary, err := inference.NewPrimaryScorer(cfg.Scorer)
	if err != nil {
		return fmt.Errorf("create primary scorer: %w", err)
	}
	verifier, err := inference.NewSecondaryVerifier(cfg.Scorer)
	if err != nil {
		return fmt.Errorf("create secondary verifier: %w", err)
	}
	slog.Info("scoring stages initialized", "primary", primary.Name(), "verifier", verifier.Name())

	// 6. Create store, file storage, gate and pipeline
	pgStore := store.NewPostgresStore(pool)

	files, err := storage.NewLocal(cfg.Storage.UploadDir)
	if err != nil {
		return fmt.Errorf("create upload storage: %w", err)
	}

	gate := quota.NewStoreGate(pgStore, cfg.Quota.DailyFreeLimit)
	pipeline := inference.NewPipeline(primary, verifier, gate, pgStore, redisCache, nil)

	// 7. Start the abandonment sweeper
	sweeper := cleanup.NewSweeper(pgStore, files, cfg.Cleanup.PendingGracePeriod, cfg.Cleanup.SweepInterval)
	go sweeper.Run(ctx)

	// 8. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		UploadHandler:      handler.NewUploadHandler(pgStore, files, pipeline, cfg.Storage.MaxUploadBytes),
		ListImagesHandler:  handler.NewListImagesHandler(pgStore),
		GetImageHandler:    handler.NewGetImageHandler(pgStore),
		ImageStatusHandler: handler.NewImageStatusHandler(pgStore, redisCache),
		DeleteImageHandler: handler.NewDeleteImageHandler(pgStore, files),

		ListAnalysesHandler: handler.NewListAnalysesHandler(pgStore),
		DashboardHandler:    handler.NewDashboardHandler(pgStore, redisCache),
		GetAnalysisHandler:  handler.NewGetAnalysisHandler(pgStore),

		UserTokensHandler:   handler.NewUserTokensHandler(gate),
		CanAnalyzeHandler:   handler.NewCanAnalyzeHandler(gate),
		GrantTokensHandler:  handler.NewGrantTokensHandler(pgStore),
		UpgradeProHandler:   handler.NewSetProHandler(pgStore, true),
		DowngradeProHandler: handler.NewSetProHandler(pgStore, false),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

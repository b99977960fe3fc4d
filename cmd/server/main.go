// Package main is the entrypoint for the ReflectAI clustering API server.
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

	"github.com/google/uuid"
	"github.com/reflectai/journal/internal/api"
	"github.com/reflectai/journal/internal/api/handler"
	mw "github.com/reflectai/journal/internal/api/middleware"
	"github.com/reflectai/journal/internal/api/response"
	"github.com/reflectai/journal/internal/cache"
	"github.com/reflectai/journal/internal/clustering"
	"github.com/reflectai/journal/internal/config"
	"github.com/reflectai/journal/internal/embedding"
	"github.com/reflectai/journal/internal/jobs"
	"github.com/reflectai/journal/internal/store"
	"github.com/reflectai/journal/pkg/models"
	"golang.org/x/crypto/bcrypt"
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
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "embedding_provider", cfg.Embedding.Provider, "env", cfg.Server.Env)

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

	// 5. Create embedding provider
	provider, err := embedding.NewProvider(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("create embedding provider: %w", err)
	}
	slog.Info("embedding provider initialized", "provider", provider.Name(), "dimensions", provider.Dimensions())

	// 6. Create store and clustering engine
	pgStore := store.NewPostgresStore(pool)
	engine := clustering.NewEngine()

	if cfg.Server.DevAPIKey != "" {
		if err := ensureDevAPIKey(ctx, pgStore, cfg.Server.DevAPIKey); err != nil {
			return fmt.Errorf("bootstrap dev api key: %w", err)
		}
		slog.Info("dev api key registered for default user")
	}

	// 7. Start the job orchestrator
	orch := jobs.NewOrchestrator(pgStore, redisCache, provider, engine, jobs.Options{
		Workers:    cfg.Jobs.Workers,
		QueueSize:  cfg.Jobs.QueueSize,
		StatusTTL:  cfg.Jobs.StatusTTL,
		EmbedBatch: cfg.Jobs.EmbedBatch,
	})
	orch.Start(ctx)

	// 8. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, cfg.Jobs.RatePerMin)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		CreateEntryHandler: handler.NewCreateEntryHandler(pgStore),
		ListEntriesHandler: handler.NewListEntriesHandler(pgStore),
		GetEntryHandler:    handler.NewGetEntryHandler(pgStore),
		UpdateEntryHandler: handler.NewUpdateEntryHandler(pgStore),

		RunClusteringHandler:    handler.NewRunClusteringHandler(orch),
		GetTaskHandler:          handler.NewGetTaskHandler(orch),
		CancelTaskHandler:       handler.NewCancelTaskHandler(orch),
		ListRunsHandler:         handler.NewListRunsHandler(pgStore),
		GetVisualizationHandler: handler.NewGetVisualizationHandler(pgStore),
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

	// Workers observe ctx cancellation; wait for in-flight jobs to reach a
	// checkpoint before exiting.
	orch.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

// ensureDevAPIKey registers rawKey for the seeded default user. Running again
// with the same key is a no-op, so restarts do not accumulate rows.
func ensureDevAPIKey(ctx context.Context, s store.Store, rawKey string) error {
	prefix := rawKey[:mw.KeyPrefixLen]
	keys, err := s.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(rawKey)) == nil {
			return nil
		}
	}

	user, err := s.GetDefaultUser(ctx)
	if err != nil {
		return fmt.Errorf("default user: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.CreateAPIKey(ctx, &models.APIKey{
		ID:        uuid.New(),
		UserID:    user.ID,
		Name:      "dev",
		KeyHash:   string(hash),
		KeyPrefix: prefix,
		CreatedAt: now,
		UpdatedAt: now,
	})
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

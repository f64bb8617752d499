// Package main is the entrypoint for the castkeeper server: the worker pool,
// the reconciler and the admin API in one process.
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

	"github.com/kiranshivaraju/castkeeper/internal/api"
	"github.com/kiranshivaraju/castkeeper/internal/api/handler"
	mw "github.com/kiranshivaraju/castkeeper/internal/api/middleware"
	"github.com/kiranshivaraju/castkeeper/internal/cache"
	"github.com/kiranshivaraju/castkeeper/internal/chunking"
	"github.com/kiranshivaraju/castkeeper/internal/config"
	"github.com/kiranshivaraju/castkeeper/internal/costgate"
	"github.com/kiranshivaraju/castkeeper/internal/engine"
	"github.com/kiranshivaraju/castkeeper/internal/lifecycle"
	"github.com/kiranshivaraju/castkeeper/internal/media"
	"github.com/kiranshivaraju/castkeeper/internal/reconcile"
	"github.com/kiranshivaraju/castkeeper/internal/store"
	"github.com/kiranshivaraju/castkeeper/internal/transcribe"
	"github.com/kiranshivaraju/castkeeper/internal/vectorindex"
	"github.com/kiranshivaraju/castkeeper/internal/worker"
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
	logger := slog.Default().With("instance", cfg.Server.InstanceID)
	logger.Info("config loaded", "env", cfg.Server.Env,
		"transcribe_workers", cfg.Worker.TranscribeWorkers, "embed_workers", cfg.Worker.EmbedWorkers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to the job store
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	// 3. Connect to the vector index
	vectorPool, err := vectorindex.Connect(ctx, cfg.VectorDB)
	if err != nil {
		return fmt.Errorf("connect vector database: %w", err)
	}
	defer vectorPool.Close()

	if err := store.RunMigrations(cfg.VectorDB.URL, cfg.VectorDB.MigrationsDir, vectorindex.MigrationsTable); err != nil {
		return fmt.Errorf("run vector migrations: %w", err)
	}
	collection := vectorindex.CollectionName(cfg.VectorDB.Model, cfg.VectorDB.Dimensions)
	index := vectorindex.NewPgvectorIndex(vectorPool, collection, cfg.VectorDB.Dimensions)
	logger.Info("vector index ready", "collection", collection)

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")

	// 5. Engines
	engines, err := engine.NewSet(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create engines: %w", err)
	}
	defer engines.Close()
	logger.Info("engines initialized",
		"local_transcriber", engines.LocalTranscriber != nil, "paid_transcriber", engines.PaidTranscriber != nil,
		"local_embedder", engines.LocalEmbedder != nil, "paid_embedder", engines.PaidEmbedder != nil)

	// 6. Pipeline
	pgStore := store.NewPostgresStore(pool)
	gate := costgate.New(pgStore, redisCache, redisCache, cfg.Cost, logger)
	spool := media.NewSpool(cfg.Worker.SpoolDir)

	workers := worker.NewPool(worker.Deps{
		Store:            pgStore,
		Index:            index,
		Gate:             gate,
		Fetcher:          media.NewFetcher(cfg.Worker.MediaBaseURL, spool, cfg.Worker.FetchTimeout),
		Audio:            transcribe.NewRunner(media.NewCutter(cfg.Transcribe.FFmpegPath), spool, cfg.Transcribe, logger),
		Chunker:          chunking.NewSegmentChunker(chunking.DefaultMaxChars),
		Spool:            spool,
		LocalTranscriber: engines.LocalTranscriber,
		PaidTranscriber:  engines.PaidTranscriber,
		LocalEmbedder:    engines.LocalEmbedder,
		PaidEmbedder:     engines.PaidEmbedder,
		Language:         cfg.Transcribe.Language,
		Logger:           logger,
	}, cfg.Worker, cfg.Server.InstanceID)

	reconciler := reconcile.New(pgStore, index, redisCache, gate, cfg, logger)

	ctrl := lifecycle.New(pgStore, workers, reconciler, spool, cfg.Worker, logger,
		lifecycle.WithListener(func(ctx context.Context, notify func(payload string)) {
			store.Listen(ctx, cfg.Database.URL, store.JobsChannel, logger, notify)
		}))
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	// 7. Build router with dependencies
	router := api.NewRouter(api.Dependencies{
		Logger:    logger,
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute),

		HealthHandler: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": pgStore,
			"vectors":  index,
			"cache":    redisCache,
		}),

		JobStats:    handler.NewJobStatsHandler(pgStore),
		JobFailures: handler.NewJobFailuresHandler(pgStore),
		ListJobs:    handler.NewListJobsHandler(pgStore),
		GetJob:      handler.NewGetJobHandler(pgStore),
		EnqueueJob:  handler.NewEnqueueJobHandler(pgStore),
		RetryJob:    handler.NewRetryJobHandler(pgStore),

		ListApprovals:   handler.NewListApprovalsHandler(pgStore),
		ApproveApproval: handler.NewApproveHandler(gate),
		RejectApproval:  handler.NewRejectHandler(gate),
		Spend:           handler.NewSpendHandler(gate),

		LatestReport: handler.NewLatestReportHandler(reconciler),
		ListReports:  handler.NewListReportsHandler(pgStore),
		Reconcile:    handler.NewReconcileHandler(reconciler),

		UpsertContent:     handler.NewUpsertContentHandler(pgStore, logger),
		DeactivateContent: handler.NewDeactivateContentHandler(pgStore, logger),
		DeleteContent:     handler.NewDeleteContentHandler(pgStore, logger),
	})

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout+cfg.Worker.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		return errors.Join(serveErr, fmt.Errorf("worker shutdown: %w", err))
	}
	if serveErr != nil {
		return serveErr
	}

	logger.Info("server stopped gracefully")
	return nil
}

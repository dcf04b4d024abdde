package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/tariffops/htsflow/internal/api"
	"github.com/tariffops/htsflow/internal/blob"
	"github.com/tariffops/htsflow/internal/config"
	"github.com/tariffops/htsflow/internal/db"
	"github.com/tariffops/htsflow/internal/export"
	"github.com/tariffops/htsflow/internal/jobqueue"
	"github.com/tariffops/htsflow/internal/middleware"
	"github.com/tariffops/htsflow/internal/pipeline"
	"github.com/tariffops/htsflow/internal/repository"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	conn, err := db.NewConnection(ctx, cfg.DB)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.DB); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	jobRepo := repository.NewImportJobRepository(conn.Pool)
	stagedRepo := repository.NewStagedEntryRepository(conn.Pool)
	issueRepo := repository.NewValidationIssueRepository(conn.Pool)
	diffRepo := repository.NewDiffRecordRepository(conn.Pool)
	tariffRepo := repository.NewTariffEntryRepository(conn.Pool)
	extraTaxRepo := repository.NewExtraTaxRuleRepository(conn.Pool)

	blobStore, err := blob.NewStore(cfg.Blob.Dir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open blob store")
	}

	orchestrator := pipeline.NewOrchestrator(
		jobRepo, stagedRepo, issueRepo, diffRepo, tariffRepo, extraTaxRepo,
		blobStore, cfg.Blob.Namespace, logger,
		pipeline.WithBatchSize(cfg.Importer.BatchSize),
		pipeline.WithPageSize(cfg.Importer.PageSize),
		pipeline.WithDownloadLimits(cfg.Importer.DownloadTimeout, cfg.Importer.MaxDownloadBytes),
	)

	queue := jobqueue.NewQueue(conn.Pool, cfg.Worker.MaxAttempts)
	worker := jobqueue.NewWorker(queue, cfg.Worker.PollInterval, cfg.Worker.BackoffBase, logger)
	worker.Register(api.TaskKindImport, func(ctx context.Context, task jobqueue.Task) error {
		var payload api.ImportTaskPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return fmt.Errorf("decode import task payload: %w", err)
		}
		return orchestrator.Execute(ctx, payload.ImportID)
	})

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("worker stopped")
		}
	}()

	exportService := export.NewService(jobRepo, diffRepo, issueRepo,
		export.WithPageSize(cfg.Importer.PageSize))
	apiService := api.NewService(jobRepo, queue)
	handler := api.NewHTTPHandler(apiService, export.NewHTTPHandler(exportService))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(middleware.Logging(logger)(handler)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("starting import server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	cancel()
	<-workerDone
	logger.Info().Msg("server exited")
}

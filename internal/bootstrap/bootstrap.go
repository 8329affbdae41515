package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	httpadapter "github.com/kirillkom/doc-ocr/internal/adapters/http"
	"github.com/kirillkom/doc-ocr/internal/config"
	"github.com/kirillkom/doc-ocr/internal/core/ports"
	"github.com/kirillkom/doc-ocr/internal/core/usecase"
	"github.com/kirillkom/doc-ocr/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/doc-ocr/internal/infrastructure/inspect/pdf"
	"github.com/kirillkom/doc-ocr/internal/infrastructure/queue/nats"
	"github.com/kirillkom/doc-ocr/internal/infrastructure/repository/memory"
	"github.com/kirillkom/doc-ocr/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/doc-ocr/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/doc-ocr/internal/infrastructure/resilience"
	"github.com/kirillkom/doc-ocr/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/doc-ocr/internal/infrastructure/worker"
	"github.com/kirillkom/doc-ocr/internal/observability/metrics"
)

const serviceName = "doc-ocr-api"

type App struct {
	Config config.Config

	Repo         ports.DocumentRepository
	Orchestrator *usecase.ProcessOrchestrator
	IngestUC     ports.DocumentIngestor
	QueryUC      ports.DocumentReader
	ArtifactUC   ports.ArtifactProvider
	ExportUC     ports.DocumentExporter

	MetricsRegistry *prometheus.Registry
	HTTPMetrics     *metrics.HTTPServerMetrics

	logger  *slog.Logger
	closeFn func()
}

// New builds the dependency graph for cfg. The returned App owns the database
// handle, the broker connection and the orchestrator; release them with Shutdown.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	closers := []func(){closeRepo}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	storage, err := localfs.New(cfg.UploadDir)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("init upload storage: %w", err)
	}
	convertedDir, err := filepath.Abs(cfg.ConvertedDir)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("resolve converted dir: %w", err)
	}
	if err := os.MkdirAll(convertedDir, 0o755); err != nil {
		closeAll()
		return nil, fmt.Errorf("create converted dir: %w", err)
	}

	artifacts, err := localfs.NewArtifactOpener(convertedDir)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("init artifact opener: %w", err)
	}

	launcher, err := worker.NewLauncher(cfg.WorkerCommand, logger)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("init worker launcher: %w", err)
	}
	decoder, err := worker.NewResultDecoder()
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("init worker result decoder: %w", err)
	}

	registry := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTPServerMetrics(serviceName, registry)
	workerMetrics := metrics.NewWorkerMetrics(serviceName, registry)

	orchestratorOpts := []usecase.OrchestratorOption{
		usecase.WithWorkerTimeout(cfg.WorkerTimeout),
		usecase.WithProcessObserver(workerMetrics),
		usecase.WithLogger(logger),
	}
	if cfg.NATSURL != "" {
		executor := resilience.NewExecutor(
			resilience.DefaultPublishPolicy(),
			resilience.WithLogger(logger),
			resilience.WithStateListener(workerMetrics.BreakerStateChanged),
		)
		publisher, err := nats.NewStatusPublisher(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init status publisher: %w", err)
		}
		closers = append(closers, publisher.Close)
		orchestratorOpts = append(orchestratorOpts, usecase.WithStatusPublisher(publisher))
		logger.Info("status_events_enabled", "subject", cfg.NATSSubject)
	}

	orchestrator := usecase.NewProcessOrchestrator(repo, launcher, decoder, orchestratorOpts...)

	ingestUC := usecase.NewIngestDocumentUseCase(repo, storage, pdf.NewInspector(), orchestrator, usecase.IngestOptions{
		MaxUploadBytes:    cfg.MaxUploadBytes,
		ConvertedDir:      convertedDir,
		ArtifactExtension: cfg.ArtifactExtension,
	}, logger)

	return &App{
		Config: cfg,

		Repo:         repo,
		Orchestrator: orchestrator,
		IngestUC:     ingestUC,
		QueryUC:      usecase.NewDocumentQueryUseCase(repo),
		ArtifactUC:   usecase.NewArtifactUseCase(repo, artifacts, cfg.ArtifactExtension),
		ExportUC:     usecase.NewExportUseCase(repo, xlsx.NewWriter(), logger),

		MetricsRegistry: registry,
		HTTPMetrics:     httpMetrics,

		logger:  logger,
		closeFn: closeAll,
	}, nil
}

// Handler returns the public API with metrics instrumentation.
func (a *App) Handler() http.Handler {
	return httpadapter.NewRouter(a.IngestUC, a.QueryUC, a.ArtifactUC, a.ExportUC, httpadapter.Options{
		MaxUploadBytes: a.Config.MaxUploadBytes,
		Logger:         a.logger,
		Uploads:        a.HTTPMetrics,
		Middleware: func(next http.Handler) http.Handler {
			return a.HTTPMetrics.Middleware(serviceName, next)
		},
	}).Handler()
}

func (a *App) MetricsHandler() http.Handler {
	return metrics.Handler(a.MetricsRegistry)
}

// Shutdown drains the orchestrator, then releases the broker and the database.
// Workers still running when ctx expires are killed and their jobs fail.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Orchestrator.Shutdown(ctx)
	a.Close()
	return err
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
		a.closeFn = nil
	}
}

func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (ports.DocumentRepository, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		repo := postgres.NewDocumentRepository(db)
		if cfg.PostgresEnsureSchema {
			if err := repo.EnsureSchema(ctx); err != nil {
				_ = db.Close()
				return nil, nil, fmt.Errorf("ensure schema: %w", err)
			}
		}
		logger.Info("repository_ready", "backend", cfg.StorageBackend)
		return repo, closeDB(db), nil
	case config.BackendSQLite:
		db, err := sqlite.OpenDB(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		repo := sqlite.NewDocumentRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		logger.Info("repository_ready", "backend", cfg.StorageBackend, "path", cfg.SQLitePath)
		return repo, closeDB(db), nil
	case config.BackendMemory:
		logger.Warn("repository_ready", "backend", cfg.StorageBackend, "durable", false)
		return memory.NewDocumentRepository(), func() {}, nil
	default:
		return nil, nil, errors.New("unknown storage backend " + cfg.StorageBackend)
	}
}

func closeDB(db *sql.DB) func() {
	return func() {
		_ = db.Close()
	}
}

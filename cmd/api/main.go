package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/doc-ocr/internal/bootstrap"
	"github.com/kirillkom/doc-ocr/internal/config"
	"github.com/kirillkom/doc-ocr/internal/observability/logging"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("dotenv_load_failed", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_invalid", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("doc-ocr-api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}

	servers := []*http.Server{{
		Addr:              ":" + cfg.APIPort,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
	if cfg.MetricsPort != "" {
		servers = append(servers, &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           app.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, server := range servers {
		group.Go(func() error {
			logger.Info("http_server_listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		for _, server := range servers {
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http_server_shutdown_failed", "addr", server.Addr, "error", err)
			}
		}
		if err := app.Shutdown(shutdownCtx); err != nil {
			logger.Warn("orchestrator_shutdown_incomplete", "error", err)
		}
		logger.Info("shutdown_complete")
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("server_failed", "error", err)
		os.Exit(1)
	}
}

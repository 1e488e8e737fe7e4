package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/user/scraper-service/internal/adapter/chromedpscraper"
	"github.com/user/scraper-service/internal/adapter/filestore"
	"github.com/user/scraper-service/internal/adapter/postgres"
	"github.com/user/scraper-service/internal/adapter/redisstore"
	"github.com/user/scraper-service/internal/delivery/http/handler"
	"github.com/user/scraper-service/internal/delivery/http/router"
	"github.com/user/scraper-service/internal/engine"
	"github.com/user/scraper-service/internal/provider"
	"github.com/user/scraper-service/pkg/config"
	"github.com/user/scraper-service/pkg/logger"
	"github.com/user/scraper-service/pkg/metrics"
)

func main() {
	// --- Configuration ---
	cfg := config.Load()

	// --- Logger ---
	logger.Init(os.Stdout, logger.Level(cfg.LogLevel))
	slog.Info("Logger initialized", "level", cfg.LogLevel)

	// --- Metrics ---
	metrics.Init()
	slog.Info("Metrics initialized")

	// --- Providers ---
	registry := provider.Default()
	if err := registerProviders(registry); err != nil {
		slog.Error("Failed to register providers", "error", err)
		os.Exit(1)
	}
	scrapers, storages := registry.Scrapers(), registry.Storages()
	slog.Info("Providers registered", "scraping", scrapers, "storage", storages)

	// --- Engine ---
	svc := engine.New(registry, engine.Options{
		Backoff: engine.BackoffPolicy{
			BaseDelay:    cfg.RetryBaseDelay,
			MaxDelay:     cfg.RetryMaxDelay,
			Multiplier:   2.0,
			JitterFactor: 0.2,
		},
		ProviderPermits: cfg.ProviderPermits,
		HistoryCap:      cfg.HistoryCap,
		RunDeadline:     cfg.RunDeadline,
	})

	// --- HTTP Server ---
	apiHandler := handler.NewHandler(svc)
	httpRouter := router.New(apiHandler)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      httpRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Could not listen on port", "port", cfg.ServerPort, "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}

func registerProviders(r *provider.Registry) error {
	if err := chromedpscraper.Register(r); err != nil {
		return err
	}
	if err := postgres.Register(r); err != nil {
		return err
	}
	if err := redisstore.Register(r); err != nil {
		return err
	}
	if err := filestore.RegisterJSON(r); err != nil {
		return err
	}
	return filestore.RegisterCSV(r)
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ikkim/cartsync/config"
	"github.com/ikkim/cartsync/internal/api"
	"github.com/ikkim/cartsync/internal/app/repository"
	"github.com/ikkim/cartsync/internal/app/service"
	"github.com/ikkim/cartsync/internal/metrics"
	"github.com/ikkim/cartsync/internal/scheduler"
	"github.com/ikkim/cartsync/internal/storage"
	"github.com/ikkim/cartsync/pkg/logger"
	"github.com/ikkim/cartsync/pkg/retry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", err)
	}

	// Initialize logger
	logger.Initialize(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		EnableColor: cfg.Log.Format == "console",
	})

	logger.Info("Starting cart sync engine", map[string]interface{}{
		"api_base_url": cfg.CartAPI.BaseURL,
		"storage":      cfg.Storage.Backend,
	})

	// Local persistence
	kv, err := storage.Open(&cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to open local storage", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Error("Failed to close local storage", err)
		}
	}()

	// Remote Cart API client
	apiClient, err := api.NewClient(api.Config{
		BaseURL: cfg.CartAPI.BaseURL,
		Timeout: cfg.CartAPI.Timeout,
	})
	if err != nil {
		logger.Fatal("Failed to create Cart API client", err)
	}

	// Analytics: always log, optionally export Prometheus counters
	var analytics service.Analytics = service.NewLogAnalytics()
	if cfg.Metrics.Enabled {
		prom := metrics.NewAnalytics()
		analytics = service.MultiAnalytics{service.NewLogAnalytics(), prom}
		go func() {
			logger.Info("Serving metrics", map[string]interface{}{
				"addr": cfg.Metrics.Addr,
			})
			if err := http.ListenAndServe(cfg.Metrics.Addr, prom.Handler()); err != nil {
				logger.Error("Metrics server stopped", err)
			}
		}()
	}

	// Engine and coordinator
	engine := service.NewCartService(service.Options{
		API:             apiClient,
		Snapshots:       repository.NewSnapshotRepository(kv),
		Queue:           repository.NewQueueRepository(kv),
		Analytics:       analytics,
		Retry:           retry.Config{MaxAttempts: cfg.Sync.MaxAttempts, BaseDelay: cfg.Sync.BaseDelay},
		QueueMaxRetries: cfg.Sync.QueueMaxRetries,
	})
	coordinator := service.NewSyncCoordinator(engine, cfg.Sync.DrainDelay, nil, analytics)
	defer coordinator.Stop()

	// Initial load: falls back to the local snapshot when the server is
	// unreachable
	if err := engine.LoadCart(context.Background()); err != nil {
		logger.Error("Initial cart load failed", err)
	}

	// Periodic client-initiated sync
	if cfg.Sync.PollSpec != "" {
		syncScheduler := scheduler.NewSyncScheduler(coordinator, cfg.Sync.PollSpec)
		if err := syncScheduler.Start(); err != nil {
			logger.Fatal("Failed to start sync scheduler", err)
		}
		defer syncScheduler.Stop()
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down cart sync engine", nil)
}

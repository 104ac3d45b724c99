package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-vault/internal/api"
	"media-vault/internal/catalog"
	"media-vault/internal/config"
	"media-vault/internal/database"
	"media-vault/internal/events"
	"media-vault/internal/importer"
	"media-vault/internal/logging"
	"media-vault/internal/memory"
	"media-vault/internal/metrics"
	"media-vault/internal/probe"
	"media-vault/internal/taggraph"
	"media-vault/internal/tagmatch"
)

func main() {
	startTime := time.Now()

	// GOMEMLIMIT must be in place before the first large allocation.
	memory.ConfigureFromEnv()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("Configuration error: %v", err)
		os.Exit(1)
	}

	metrics.SetAppInfo(config.Version, config.Commit, config.GoVersion)

	ctx := context.Background()

	// Database
	dbStart := time.Now()
	db, err := database.New(ctx, cfg.DatabasePath)
	if err != nil {
		logging.Error("Failed to initialize database: %v", err)
		os.Exit(1)
	}
	defer db.Close()
	logging.Info("Database ready in %dms", time.Since(dbStart).Milliseconds())

	// Tag graph and matcher, rebuilt from the store on every start.
	graph := taggraph.New()
	bus := events.NewBus(256)
	resolver := importer.NewTagResolver(tagmatch.New(nil), graph)

	// Probe
	if cfg.VipsEnabled {
		if err := probe.InitVips(); err != nil {
			logging.Warn("libvips unavailable, falling back to pure-Go decoding: %v", err)
		} else {
			defer probe.ShutdownVips()
		}
	}
	prober, err := probe.New(cfg.ThumbnailDir, cfg.ThumbnailsEnabled)
	if err != nil {
		logging.Error("Failed to initialize media probe: %v", err)
		os.Exit(1)
	}

	// Import pipeline
	monitor := memory.NewMonitor(memory.DefaultConfig())
	monitor.Start()

	pool := importer.NewPool(cfg.ImportWorkers, db, prober, resolver, bus)
	pool.SetMemoryMonitor(monitor)
	pool.Start()

	tracker := importer.NewTracker(pool, db, bus)
	tracker.SetStatsInterval(cfg.StatsInterval)

	// Catalog
	cat := catalog.New(db, graph, resolver, tracker, bus)
	if err := cat.ReloadGraph(ctx); err != nil {
		logging.Error("Failed to load tag graph: %v", err)
		os.Exit(1)
	}
	if err := cat.RebuildMatcher(ctx); err != nil {
		logging.Error("Failed to build tag matcher: %v", err)
		os.Exit(1)
	}

	// HTTP
	server := api.New(cat, bus, config.Version)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.MetricsEnabled && cfg.MetricsPort != cfg.Port {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", server.MetricsHandler())
		metricsSrv = &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}
		go func() {
			logging.Info("Metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsSrv.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	go handleShutdown(srv, metricsSrv, pool, monitor)

	logging.Info("MediaVault %s listening on :%s (startup took %dms)",
		config.Version, cfg.Port, time.Since(startTime).Milliseconds())
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logging.Error("Server error: %v", err)
		os.Exit(1)
	}
	logging.Info("Shutdown complete")
}

// handleShutdown drains the pipeline before closing the listeners so items
// already accepted finish and their batches finalize.
func handleShutdown(srv, metricsSrv *http.Server, pool *importer.Pool, monitor *memory.Monitor) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logging.Info("Received %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logging.Info("Stopping import pool")
	pool.Stop()
	monitor.Stop()

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}

	logging.Info("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	}
}

/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the two-part tariff billing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the zap logger and prometheus registry
  3. Open the store (SQLite, or in-memory when no path is set)
  4. Create API handler and router
  5. Start the bill run scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: config.yaml, falls back to env)
  -port    HTTP server port, overrides config
  -db      SQLite database path, overrides config
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (an in-flight bill run is cancelled and requeued)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/billing.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

ENVIRONMENT:
  See config/config.go LoadFromEnv. A .env file is read when present.

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Background bill run processing
  - config/config.go: Configuration sources
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/warp/abstraction-billing/api"
	"github.com/warp/abstraction-billing/config"
	"github.com/warp/abstraction-billing/observability"
	"github.com/warp/abstraction-billing/store/memory"
	"github.com/warp/abstraction-billing/store/sqlite"
	"github.com/warp/abstraction-billing/twopart"
	"go.uber.org/zap"
)

type closableStore interface {
	api.Store
	Close() error
}

func main() {
	// Flags
	configPath := flag.String("config", "config.yaml", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg := config.LoadOrEnv(*configPath)
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Storage.DatabasePath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(observability.LoggerConfig{
		ServiceName: cfg.Service.Name,
		Environment: cfg.Service.Environment,
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	// Initialize store
	store, err := openStore(cfg.Storage.DatabasePath, logger)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.Error(err))
	}
	defer store.Close()

	// Initialize handler
	engine := twopart.NewEngine(twopart.Policy{AuthorisedFallback: cfg.Engine.Fallback()})
	handler := api.NewHandler(store, engine, logger, metrics)

	// Create router
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Gatherer:       registry,
		Requests:       metrics,
	})

	scheduler := api.NewBillRunScheduler(handler)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("storage", storageName(cfg.Storage.DatabasePath)),
			zap.Bool("authorised_fallback", engine.Policy.AuthorisedFallback),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func openStore(path string, logger *zap.Logger) (closableStore, error) {
	logger = logger.Named("store")
	if path == "" {
		return memory.New(memory.WithLogger(logger)), nil
	}
	return sqlite.New(path, sqlite.WithLogger(logger))
}

func storageName(path string) string {
	if path == "" {
		return "memory"
	}
	return path
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/nftactivity/service/activity"
	"github.com/brojonat/nftactivity/service/config"
	"github.com/brojonat/nftactivity/service/db"
	"github.com/brojonat/nftactivity/service/metadata"
	"github.com/brojonat/nftactivity/service/metrics"
	"github.com/brojonat/nftactivity/service/server"
	"github.com/brojonat/nftactivity/service/solana"
	"github.com/brojonat/nftactivity/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	// A local .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	store := db.NewStore(dbPool).WithMetrics(metricsCollector)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Initialize Solana RPC client
	// Note: For premium RPC endpoints, include API key in the URL
	rpcURL, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("failed to select RPC endpoint", "error", err)
		os.Exit(1)
	}
	solanaClient := solana.NewClient(
		solana.NewRPCClient(rpcURL),
		solana.EndpointLabel(rpcURL),
		metricsCollector,
		logger,
		solana.WithTransactionCache(store),
		solana.WithRequestInterval(cfg.RPCRequestInterval),
	)
	logger.Info("initialized solana RPC client",
		"endpoint", solana.EndpointLabel(rpcURL),
		"total_endpoints", len(cfg.SolanaRPCURLs),
	)

	// Activity engine
	validator := metadata.NewValidator(solanaClient, cfg.MetadataCacheSize, metricsCollector, logger)
	marketplace := activity.Marketplace{
		ListingAccount: cfg.MarketplaceListingAccount,
		Delegate:       cfg.MarketplaceDelegate,
		Multisigs:      cfg.MarketplaceMultisigs,
	}
	history := activity.NewHistory(
		validator,
		activity.NewScanner(solanaClient, solanaClient, metricsCollector, logger),
		activity.NewClassifier(solanaClient, marketplace, metricsCollector, logger),
		metricsCollector,
		logger,
	)

	// Initialize Temporal client for schedule management
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()
	logger.Info("connected to temporal for schedule management",
		"host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
	)

	// SSE streaming is optional; the API works without NATS.
	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("failed to initialize SSE publisher, streaming disabled", "error", err)
		ssePublisher = nil
	}

	// Initialize HTTP server
	httpServer := server.New(
		cfg.ServerAddr,
		cfg,
		history,
		validator,
		store,
		temporalClient,
		ssePublisher,
		metricsCollector,
		logger,
	)

	logger.Info("server initialized, all dependencies ready",
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
		"task_queue", cfg.TemporalTaskQueue,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

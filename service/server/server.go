package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/nftactivity/service/activity"
	"github.com/brojonat/nftactivity/service/config"
	"github.com/brojonat/nftactivity/service/db"
	"github.com/brojonat/nftactivity/service/metrics"
	"github.com/brojonat/nftactivity/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HistoryService computes the activity history of a mint.
type HistoryService interface {
	GetActivityHistory(ctx context.Context, mint string) ([]activity.Event, error)
}

// WatchedMintStore is the persistence the watched-mint endpoints need.
type WatchedMintStore interface {
	UpsertWatchedMint(ctx context.Context, params db.UpsertWatchedMintParams) (*db.WatchedMint, error)
	GetWatchedMint(ctx context.Context, mint string) (*db.WatchedMint, error)
	ListWatchedMints(ctx context.Context) ([]*db.WatchedMint, error)
	DeleteWatchedMint(ctx context.Context, mint string) error
	WatchedMintExists(ctx context.Context, mint string) (bool, error)
}

// Server represents the HTTP server for the activity service.
type Server struct {
	addr         string
	cfg          *config.Config
	history      HistoryService
	validator    activity.MintValidator
	store        WatchedMintStore
	scheduler    temporal.Scheduler
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler is used to create/delete Temporal schedules for watched mints.
// The validator is optional - if nil, watched mints are not checked for metadata.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(
	addr string,
	cfg *config.Config,
	history HistoryService,
	validator activity.MintValidator,
	store WatchedMintStore,
	scheduler temporal.Scheduler,
	ssePublisher *SSEPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		history:      history,
		validator:    validator,
		store:        store,
		scheduler:    scheduler,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Activity history
	route("GET /api/v1/mints/{mint}/activity", "/api/v1/mints/{mint}/activity", handleGetActivity(s.history, s.logger))

	// Watched mint routes
	route("POST /api/v1/watched-mints", "/api/v1/watched-mints", handleWatchMint(s.store, s.scheduler, s.validator, s.cfg, s.logger))
	route("GET /api/v1/watched-mints", "/api/v1/watched-mints", handleListWatchedMints(s.store, s.logger))
	route("GET /api/v1/watched-mints/{mint}", "/api/v1/watched-mints/{mint}", handleGetWatchedMint(s.store, s.logger))
	route("DELETE /api/v1/watched-mints/{mint}", "/api/v1/watched-mints/{mint}", handleUnwatchMint(s.store, s.scheduler, s.logger))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		route("GET /api/v1/stream/activity/{mint}", "/api/v1/stream/activity/{mint}", handleStreamActivity(s.ssePublisher, s.metrics, s.logger))
		route("GET /api/v1/stream/activity", "/api/v1/stream/activity", handleStreamActivity(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	// Wrap mux with CORS middleware
	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// A full history scan makes many paced RPC calls.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	// Then shutdown HTTP server
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers for all requests
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Pass through to next handler
		next.ServeHTTP(w, r)
	})
}

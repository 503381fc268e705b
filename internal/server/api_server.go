package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/devrev/pairdb/storage-rent/internal/handler"
	"github.com/devrev/pairdb/storage-rent/internal/metrics"
	"github.com/devrev/pairdb/storage-rent/internal/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// APIServerConfig holds configuration for the HTTP API server
type APIServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration

	RateLimitEnabled  bool
	RequestsPerSecond float64
	Burst             int
	AllowedOrigins    []string
}

// APIServer serves the rent API over HTTP
type APIServer struct {
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
}

// NewAPIServer creates the HTTP API server. health may be nil.
func NewAPIServer(cfg *APIServerConfig, h *handler.HTTPHandler, health HealthHandlers, m *metrics.Metrics, logger *zap.Logger) *APIServer {
	router := mux.NewRouter()

	if health != nil {
		router.HandleFunc("/health", health.LivenessHandler).Methods(http.MethodGet)
		router.HandleFunc("/ready", health.ReadinessHandler).Methods(http.MethodGet)
	}
	h.RegisterRoutes(router)

	router.NotFoundHandler = http.HandlerFunc(handler.NotFoundHandler)
	router.MethodNotAllowedHandler = http.HandlerFunc(handler.MethodNotAllowedHandler)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(logger),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.CORS(origins),
	}
	if cfg.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst, m, logger)
		middlewareChain = append(middlewareChain, limiter.Limit)
	}
	if cfg.RequestTimeout > 0 {
		middlewareChain = append(middlewareChain, middleware.Timeout(cfg.RequestTimeout))
	}

	// Wrap the whole router so unmatched routes also pass the chain
	root := middleware.Chain(middlewareChain...)(router)

	return &APIServer{
		router: router,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      root,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root HTTP handler including middleware
func (s *APIServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the server is shut down
func (s *APIServer) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener
func (s *APIServer) Serve(listener net.Listener) error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", listener.Addr().String()))

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP API server")
	return s.httpServer.Shutdown(ctx)
}

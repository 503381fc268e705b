package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/devrev/pairdb/storage-rent/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthHandlers exposes liveness and readiness endpoints
type HealthHandlers interface {
	LivenessHandler(w http.ResponseWriter, r *http.Request)
	ReadinessHandler(w http.ResponseWriter, r *http.Request)
}

// MetricsServer serves Prometheus metrics via HTTP
type MetricsServer struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Host string
	Port int
	Path string
}

// NewMetricsServer creates a new metrics server. health may be nil.
func NewMetricsServer(cfg *MetricsServerConfig, m *metrics.Metrics, health HealthHandlers, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()

	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	if health != nil {
		mux.HandleFunc("/health", health.LivenessHandler)
		mux.HandleFunc("/ready", health.ReadinessHandler)
	}

	return &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the HTTP handler of the server
func (s *MetricsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the server is shut down
func (s *MetricsServer) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("metrics server listen failed: %w", err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener
func (s *MetricsServer) Serve(listener net.Listener) error {
	s.logger.Info("Starting metrics server", zap.String("addr", listener.Addr().String()))

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the metrics server
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping metrics server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}

package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/devrev/pairdb/storage-rent/internal/handler"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// GRPCServerConfig holds configuration for the gRPC server
type GRPCServerConfig struct {
	Host                 string
	Port                 int
	MaxConcurrentStreams uint32
}

// GRPCServer serves the rent API over gRPC
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	addr   string
	logger *zap.Logger
}

// NewGRPCServer creates the gRPC server with the rent and health services
func NewGRPCServer(cfg *GRPCServerConfig, h *handler.GRPCHandler, logger *zap.Logger) *GRPCServer {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(recoveryInterceptor(logger), loggingInterceptor(logger)),
	}
	if cfg.MaxConcurrentStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(cfg.MaxConcurrentStreams))
	}

	s := grpc.NewServer(opts...)
	h.Register(s)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &GRPCServer{
		server: s,
		health: healthServer,
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		logger: logger,
	}
}

// SetServing updates the reported health of the rent service
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(handler.ServiceName, st)
	s.health.SetServingStatus("", st)
}

// Start serves until the server is stopped
func (s *GRPCServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gRPC listen failed: %w", err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener
func (s *GRPCServer) Serve(listener net.Listener) error {
	s.logger.Info("Starting gRPC server", zap.String("addr", listener.Addr().String()))
	if err := s.server.Serve(listener); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("gRPC server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully, forcing it once ctx is done
func (s *GRPCServer) Shutdown(ctx context.Context) {
	s.logger.Info("Shutting down gRPC server")
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
	}
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		logger.Debug("gRPC request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)))
		return resp, err
	}
}

func recoveryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.Any("error", r),
					zap.String("method", info.FullMethod))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return next(ctx, req)
	}
}

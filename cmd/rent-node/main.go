package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/devrev/pairdb/storage-rent/internal/config"
	"github.com/devrev/pairdb/storage-rent/internal/handler"
	"github.com/devrev/pairdb/storage-rent/internal/health"
	"github.com/devrev/pairdb/storage-rent/internal/metrics"
	"github.com/devrev/pairdb/storage-rent/internal/model"
	"github.com/devrev/pairdb/storage-rent/internal/server"
	"github.com/devrev/pairdb/storage-rent/internal/service"
	"github.com/devrev/pairdb/storage-rent/internal/storage/diskmanager"
	"github.com/devrev/pairdb/storage-rent/internal/storage/hoststore"
	"github.com/devrev/pairdb/storage-rent/internal/store"
	"github.com/devrev/pairdb/storage-rent/internal/util/workerpool"
	"github.com/devrev/pairdb/storage-rent/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("host", cfg.Server.Host),
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
		zap.String("storage_engine", cfg.Storage.Engine))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Rent node failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry, cfg.Server.NodeID)

	// Open the host store
	hostStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer hostStore.Close()

	var disk *diskmanager.DiskManager
	var guard handler.WriteGuard
	if cfg.Storage.Engine == "pebble" {
		disk, err = diskmanager.NewDiskManager(diskmanager.DefaultConfig(cfg.Storage.DataDir, cfg.Storage.MaxDiskUsage), logger)
		if err != nil {
			return fmt.Errorf("failed to initialize disk manager: %w", err)
		}
		guard = disk
	}

	// Initialize services
	policy, err := service.NewBalancePolicy(cfg.Rent.Price(), cfg.Rent.FixedOverhead, cfg.Rent.MaxAccountIDLen)
	if err != nil {
		return fmt.Errorf("invalid balance policy: %w", err)
	}
	validator := validation.NewValidatorWithLimits(int(cfg.Rent.MaxAccountIDLen))
	runtime := service.NewRuntime(hostStore, m, logger)

	var journal *service.JournalService
	if cfg.Journal.Enabled {
		journal, err = service.NewJournalService(
			&service.JournalConfig{
				SegmentSize: cfg.Journal.SegmentSize,
				SyncWrites:  cfg.Journal.SyncWrites,
			},
			cfg.Journal.Dir,
			m,
			logger,
		)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer journal.Close()

		events, err := journal.Replay(ctx, func(*model.JournalEvent) error { return nil })
		if err != nil {
			logger.Error("Failed to scan journal", zap.Error(err))
		} else {
			logger.Info("Journal opened", zap.Uint64("events", events), zap.String("dir", cfg.Journal.Dir))
		}
	}

	rentSvc := service.NewRentService(runtime, policy, validator, journal, m, logger)

	initialState := model.RunningStateRunning
	if cfg.Rent.StartPaused {
		initialState = model.RunningStatePaused
	}
	state, err := rentSvc.Init(ctx, cfg.Rent.OwnerID, initialState)
	if err != nil {
		return fmt.Errorf("failed to initialize contract state: %w", err)
	}
	logger.Info("Contract state loaded",
		zap.String("owner", state.Owner),
		zap.String("running_state", string(state.RunningState)))

	// Payout delivery
	pool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "payout",
		MaxWorkers: cfg.Payout.Workers,
		QueueSize:  cfg.Payout.QueueSize,
		Logger:     logger,
	})
	defer pool.Stop(cfg.Server.ShutdownTimeout)

	sink, err := openSink(cfg.Payout, logger)
	if err != nil {
		return err
	}
	broadcaster := service.NewPayoutBroadcaster(
		&service.PayoutConfig{
			BatchSize:     cfg.Payout.BatchSize,
			FlushInterval: cfg.Payout.FlushInterval,
		},
		runtime,
		sink,
		pool,
		m,
		logger,
	)
	defer broadcaster.Close()

	idempotency, err := openIdempotencyStore(cfg.Idempotency, logger)
	if err != nil {
		return err
	}
	if idempotency != nil {
		defer idempotency.Close()
	}

	// Health
	healthCfg := &health.HealthCheckConfig{NodeID: cfg.Server.NodeID}
	if cfg.Storage.Engine == "pebble" {
		healthCfg.DataDir = cfg.Storage.DataDir
	}
	checker := health.NewHealthChecker(healthCfg, health.Dependencies{
		Store:   hostStore,
		Payouts: broadcaster,
		State:   rentSvc,
		Disk:    disk,
	}, m, logger)

	// Servers
	httpHandler := handler.NewHTTPHandler(
		&handler.HTTPHandlerConfig{IdempotencyTTL: cfg.Idempotency.TTL},
		rentSvc,
		guard,
		idempotency,
		m,
		logger,
	)
	apiServer := server.NewAPIServer(&server.APIServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.HTTPPort,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		RequestTimeout:    cfg.Server.RequestTimeout,
		RateLimitEnabled:  cfg.RateLimiter.Enabled,
		RequestsPerSecond: cfg.RateLimiter.RequestsPerSecond,
		Burst:             cfg.RateLimiter.Burst,
	}, httpHandler, checker, m, logger)

	grpcServer := server.NewGRPCServer(&server.GRPCServerConfig{
		Host: cfg.Server.Host,
		Port: cfg.Server.GRPCPort,
	}, handler.NewGRPCHandler(rentSvc, guard, logger), logger)

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(&server.MetricsServerConfig{
			Host: cfg.Server.Host,
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}, m, checker, logger)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return checker.Start(gctx) })
	g.Go(func() error { return broadcaster.Run(gctx) })
	g.Go(apiServer.Start)
	g.Go(grpcServer.Start)
	if metricsServer != nil {
		g.Go(metricsServer.Start)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		checker.SetReadiness(false)
		grpcServer.SetServing(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		grpcServer.Shutdown(shutdownCtx)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP API shutdown failed", zap.Error(err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("Metrics server shutdown failed", zap.Error(err))
			}
		}
		return nil
	})

	logger.Info("Rent node started", zap.String("node_id", cfg.Server.NodeID))

	if err := g.Wait(); err != nil {
		return err
	}

	// Deliver what the last calls queued before the sink closes
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n, err := broadcaster.ReplayOnce(flushCtx); err != nil {
		logger.Warn("Final payout flush failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("Flushed pending payouts", zap.Int("count", n))
	}

	logger.Info("Rent node stopped")
	return nil
}

func openStore(cfg *config.Config) (hoststore.Store, error) {
	switch cfg.Storage.Engine {
	case "memory":
		return hoststore.NewMemoryStore(cfg.Rent.RecordOverhead), nil
	default:
		if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		st, err := hoststore.OpenPebble(hoststore.PebbleConfig{
			Dir:            filepath.Join(cfg.Storage.DataDir, "ledger"),
			SyncWrites:     cfg.Storage.SyncWrites,
			RecordOverhead: cfg.Rent.RecordOverhead,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble store: %w", err)
		}
		return st, nil
	}
}

func openSink(cfg config.PayoutConfig, logger *zap.Logger) (service.PayoutSink, error) {
	if cfg.Sink != "kafka" {
		return service.NewLogSink(logger), nil
	}
	sink, err := service.NewSaramaSink(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka payout sink: %w", err)
	}
	logger.Info("Kafka payout sink ready",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))
	return sink, nil
}

func openIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (store.IdempotencyStore, error) {
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "redis":
		s, err := store.NewRedisIdempotencyStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect idempotency store: %w", err)
		}
		return s, nil
	default:
		return store.NewMemoryIdempotencyStore(), nil
	}
}

// initLogger initializes the zap logger
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level
	if cfg.Format == "console" {
		zcfg.Encoding = "console"
	}
	return zcfg.Build()
}

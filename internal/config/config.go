package config

import (
	"fmt"
	"os"
	"time"

	"github.com/devrev/pairdb/storage-rent/internal/amount"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	GRPCPort        int           `yaml:"grpc_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Config represents the complete configuration for the rent node
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Rent        RentConfig        `yaml:"rent"`
	Payout      PayoutConfig      `yaml:"payout"`
	Journal     JournalConfig     `yaml:"journal"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// StorageConfig holds host store configuration
type StorageConfig struct {
	Engine       string  `yaml:"engine"` // pebble or memory
	DataDir      string  `yaml:"data_dir"`
	MaxDiskUsage float64 `yaml:"max_disk_usage"`
	SyncWrites   bool    `yaml:"sync_writes"`
}

// RentConfig holds the balance policy and contract bootstrap settings
type RentConfig struct {
	OwnerID         string `yaml:"owner_id"`
	PricePerByte    string `yaml:"price_per_byte"` // decimal, smallest units per byte
	FixedOverhead   uint32 `yaml:"fixed_overhead"`
	MaxAccountIDLen uint32 `yaml:"max_account_id_len"`
	RecordOverhead  uint64 `yaml:"record_overhead"`
	StartPaused     bool   `yaml:"start_paused"`

	price amount.Amount
}

// Price returns the parsed price per byte. Valid after Validate.
func (r RentConfig) Price() amount.Amount {
	return r.price
}

// PayoutConfig holds payout broadcaster configuration
type PayoutConfig struct {
	Sink          string        `yaml:"sink"` // log or kafka
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// JournalConfig holds call journal configuration
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Dir         string `yaml:"dir"`
	SegmentSize int64  `yaml:"segment_size"`
	SyncWrites  bool   `yaml:"sync_writes"`
}

// IdempotencyConfig holds idempotency cache configuration
type IdempotencyConfig struct {
	Backend       string        `yaml:"backend"` // memory, redis or none
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// RateLimiterConfig holds HTTP rate limiting configuration
type RateLimiterConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes, defaults and validates configuration bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if not specified
	setDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 50053
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 5 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Storage.Engine == "" {
		cfg.Storage.Engine = "pebble"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/var/lib/pairdb-rent"
	}
	if cfg.Storage.MaxDiskUsage == 0 {
		cfg.Storage.MaxDiskUsage = 0.9
	}

	if cfg.Rent.PricePerByte == "" {
		cfg.Rent.PricePerByte = "10000000000000000000" // 10^19, 1 token per 100kB
	}
	if cfg.Rent.FixedOverhead == 0 {
		cfg.Rent.FixedOverhead = 74
	}
	if cfg.Rent.MaxAccountIDLen == 0 {
		cfg.Rent.MaxAccountIDLen = 64
	}
	if cfg.Rent.RecordOverhead == 0 {
		cfg.Rent.RecordOverhead = 40
	}

	if cfg.Payout.Sink == "" {
		cfg.Payout.Sink = "log"
	}
	if cfg.Payout.Topic == "" {
		cfg.Payout.Topic = "storage-rent-payouts"
	}
	if cfg.Payout.Workers == 0 {
		cfg.Payout.Workers = 4
	}
	if cfg.Payout.QueueSize == 0 {
		cfg.Payout.QueueSize = 1000
	}
	if cfg.Payout.BatchSize == 0 {
		cfg.Payout.BatchSize = 100
	}
	if cfg.Payout.FlushInterval == 0 {
		cfg.Payout.FlushInterval = time.Second
	}

	if cfg.Journal.Dir == "" {
		cfg.Journal.Dir = cfg.Storage.DataDir + "/journal"
	}
	if cfg.Journal.SegmentSize == 0 {
		cfg.Journal.SegmentSize = 64 * 1024 * 1024 // 64MB
	}

	if cfg.Idempotency.Backend == "" {
		cfg.Idempotency.Backend = "memory"
	}
	if cfg.Idempotency.RedisAddr == "" {
		cfg.Idempotency.RedisAddr = "localhost:6379"
	}
	if cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = 24 * time.Hour
	}

	if cfg.RateLimiter.RequestsPerSecond == 0 {
		cfg.RateLimiter.RequestsPerSecond = 1000
	}
	if cfg.RateLimiter.Burst == 0 {
		cfg.RateLimiter.Burst = 2000
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9091
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be between 1 and 65535")
	}
	if c.Server.GRPCPort < 1 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port must be between 1 and 65535")
	}
	if c.Storage.Engine != "pebble" && c.Storage.Engine != "memory" {
		return fmt.Errorf("storage.engine must be pebble or memory")
	}
	if c.Storage.MaxDiskUsage < 0 || c.Storage.MaxDiskUsage > 1 {
		return fmt.Errorf("storage.max_disk_usage must be between 0 and 1")
	}

	if c.Rent.OwnerID == "" {
		return fmt.Errorf("rent.owner_id is required")
	}
	price, err := amount.Parse(c.Rent.PricePerByte)
	if err != nil {
		return fmt.Errorf("rent.price_per_byte: %w", err)
	}
	c.Rent.price = price
	if c.Rent.MaxAccountIDLen < 2 {
		return fmt.Errorf("rent.max_account_id_len must be at least 2")
	}

	if c.Payout.Sink != "log" && c.Payout.Sink != "kafka" {
		return fmt.Errorf("payout.sink must be log or kafka")
	}
	if c.Payout.Sink == "kafka" && len(c.Payout.Brokers) == 0 {
		return fmt.Errorf("payout.brokers is required for the kafka sink")
	}

	switch c.Idempotency.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("idempotency.backend must be memory, redis or none")
	}
	return nil
}

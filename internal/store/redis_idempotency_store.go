package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisIdempotencyStore implements IdempotencyStore for Redis
type RedisIdempotencyStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisIdempotencyStore connects to Redis and verifies the connection
func NewRedisIdempotencyStore(addr, password string, db int, logger *zap.Logger) (*RedisIdempotencyStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis idempotency store", zap.String("addr", addr), zap.Int("db", db))

	return NewRedisIdempotencyStoreWithClient(client, logger), nil
}

// NewRedisIdempotencyStoreWithClient wraps an existing client
func NewRedisIdempotencyStoreWithClient(client *redis.Client, logger *zap.Logger) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{
		client: client,
		logger: logger,
	}
}

// Get retrieves cached response
func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*CachedResponse, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var resp CachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached response: %w", err)
	}
	return &resp, nil
}

// Set stores response with TTL
func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal cached response: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

// Ping checks the Redis connection
func (s *RedisIdempotencyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisIdempotencyStore) Close() error {
	return s.client.Close()
}

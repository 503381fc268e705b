package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when an idempotency key has no cached response
var ErrNotFound = errors.New("idempotency key not found")

// CachedResponse is the stored result of a completed mutating request
type CachedResponse struct {
	StatusCode  int    `json:"status_code"`
	Body        []byte `json:"body"`
	Fingerprint string `json:"fingerprint,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// IdempotencyStore caches responses of mutating requests by idempotency key
type IdempotencyStore interface {
	// Get returns the cached response or ErrNotFound
	Get(ctx context.Context, key string) (*CachedResponse, error)
	// Set stores a response for ttl
	Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error
	// Close releases the store
	Close() error
}

// BuildKey scopes an idempotency key to the caller and operation so two
// callers cannot collide on the same client-chosen key
func BuildKey(callerID, operation, idempotencyKey string) string {
	return fmt.Sprintf("idempotency:%s:%s:%s", callerID, operation, idempotencyKey)
}

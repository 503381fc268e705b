package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	resp      *CachedResponse
	expiresAt time.Time
}

// MemoryIdempotencyStore keeps cached responses in process memory
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryIdempotencyStore creates an empty in-memory store
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get retrieves cached response
func (s *MemoryIdempotencyStore) Get(ctx context.Context, key string) (*CachedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil, ErrNotFound
	}

	resp := *entry.resp
	resp.Body = append([]byte(nil), entry.resp.Body...)
	return &resp, nil
}

// Set stores response with TTL and drops expired entries
func (s *MemoryIdempotencyStore) Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}

	stored := *resp
	stored.Body = append([]byte(nil), resp.Body...)
	s.entries[key] = memoryEntry{resp: &stored, expiresAt: now.Add(ttl)}
	return nil
}

// Len returns the number of stored entries, expired ones included
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close is a no-op
func (s *MemoryIdempotencyStore) Close() error {
	return nil
}

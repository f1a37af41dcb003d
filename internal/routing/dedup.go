package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore records which publish keys have already been delivered. It is
// the idempotency table layered over brokers that cannot deduplicate on
// their own.
type DedupStore interface {
	// Seen reports whether key was marked within its TTL.
	Seen(ctx context.Context, key string) (bool, error)

	// Mark records key for ttl. Marking an existing key refreshes it.
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

// DedupRouter wraps a Router with a DedupStore, suppressing publishes
// whose key was already delivered. The key is marked only after a
// successful publish: a crash between publish and mark means one retry
// reaches the underlying broker, which is the at-least-once contract this
// layer exists to absorb for dedup-capable destinations.
type DedupRouter struct {
	next  Router
	store DedupStore
	ttl   time.Duration
}

// NewDedupRouter creates a deduplicating decorator around next.
func NewDedupRouter(next Router, store DedupStore, ttl time.Duration) *DedupRouter {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DedupRouter{next: next, store: store, ttl: ttl}
}

// Publish delivers payload unless (dest, dedupKey) was already delivered.
func (r *DedupRouter) Publish(ctx context.Context, dest Destination, payload []byte, dedupKey string) error {
	key := DedupKey(dest, dedupKey)

	seen, err := r.store.Seen(ctx, key)
	if err != nil {
		return fmt.Errorf("routing: dedup lookup %q: %w", key, err)
	}
	if seen {
		return nil
	}

	if err := r.next.Publish(ctx, dest, payload, dedupKey); err != nil {
		return err
	}
	return r.store.Mark(ctx, key, r.ttl)
}

// --- MemoryDedupStore ---

// MemoryDedupStore is an in-memory DedupStore with TTL support. Suitable
// for testing and single-instance deployments.
type MemoryDedupStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry
}

// NewMemoryDedupStore creates a new in-memory dedup store.
func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{entries: make(map[string]time.Time)}
}

// Seen reports whether key was marked and has not expired.
func (s *MemoryDedupStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, exists := s.entries[key]
	if !exists {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

// Mark records key for ttl.
func (s *MemoryDedupStore) Mark(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = time.Now().Add(ttl)
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryDedupStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// --- RedisDedupStore ---

// RedisDedupStore is a Redis-backed DedupStore shared across processes.
type RedisDedupStore struct {
	client redis.Cmdable
}

// NewRedisDedupStore creates a new Redis-backed dedup store.
func NewRedisDedupStore(client redis.Cmdable) *RedisDedupStore {
	return &RedisDedupStore{client: client}
}

// Seen reports whether key exists in Redis.
func (s *RedisDedupStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %q: %w", key, err)
	}
	return n > 0, nil
}

// Mark records key with ttl.
func (s *RedisDedupStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

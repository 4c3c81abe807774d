package safesession

import (
	"context"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcachedStore implements the Store interface using Memcached.
type MemcachedStore struct {
	client         *memcache.Client
	maxRecordBytes int
}

// MemcachedConfig holds configuration for the Memcached store.
type MemcachedConfig struct {
	Servers        []string
	MaxRecordBytes int
	Timeout        time.Duration // Timeout for Memcached operations. Defaults to 0 (no timeout) if not set.
}

// NewMemcachedStore creates a new MemcachedStore.
func NewMemcachedStore(servers ...string) *MemcachedStore {
	return NewMemcachedStoreWithConfig(MemcachedConfig{
		Servers: servers,
		// Security: Set a default timeout to prevent indefinite hanging if Memcached is down.
		// 1 second is usually sufficient for local/network cache.
		Timeout: 1 * time.Second,
	})
}

// NewMemcachedStoreWithConfig creates a new MemcachedStore with custom configuration.
func NewMemcachedStoreWithConfig(cfg MemcachedConfig) *MemcachedStore {
	client := memcache.New(cfg.Servers...)
	client.Timeout = cfg.Timeout

	return &MemcachedStore{
		client:         client,
		maxRecordBytes: cfg.MaxRecordBytes,
	}
}

// Read retrieves a session record from Memcached.
func (s *MemcachedStore) Read(ctx context.Context, key string) ([]byte, error) {
	item, err := s.client.Get(key)
	if err == memcache.ErrCacheMiss {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from memcached: %w", err)
	}

	if s.maxRecordBytes > 0 && len(item.Value) > s.maxRecordBytes {
		return nil, ErrRecordTooLarge
	}

	return item.Value, nil
}

// Save stores a session record in Memcached.
func (s *MemcachedStore) Save(ctx context.Context, key string, record []byte, expiresAt time.Time) error {
	if s.maxRecordBytes > 0 && len(record) > s.maxRecordBytes {
		return ErrRecordTooLarge
	}

	// Skip the write entirely if the record is already expired.
	if !expiresAt.IsZero() && time.Until(expiresAt) <= 0 {
		return nil
	}

	err := s.client.Set(&memcache.Item{
		Key:        key,
		Value:      record,
		Expiration: calculateMemcachedExpiration(time.Now(), expiresAt),
	})
	if err != nil {
		return fmt.Errorf("failed to save to memcached: %w", err)
	}
	return nil
}

// Destroy removes a session record from Memcached.
func (s *MemcachedStore) Destroy(ctx context.Context, key string) error {
	err := s.client.Delete(key)
	if err != nil && err != memcache.ErrCacheMiss {
		return fmt.Errorf("failed to delete from memcached: %w", err)
	}
	return nil
}

// Cleanup is a no-op for Memcached as it handles expiration automatically.
func (s *MemcachedStore) Cleanup(ctx context.Context) error {
	return nil
}

// Close is a no-op for Memcached client.
func (s *MemcachedStore) Close() error {
	return nil
}

// calculateMemcachedExpiration calculates the expiration value for Memcached.
// Memcached treats values > 30 days (60*60*24*30 seconds) as absolute Unix timestamps.
// Values <= 30 days are treated as a delta from the current time.
func calculateMemcachedExpiration(now time.Time, expiresAt time.Time) int32 {
	const maxDelta = 30 * 24 * 60 * 60 // 30 days in seconds

	duration := expiresAt.Sub(now)

	// If duration exceeds 30 days, we MUST use absolute Unix timestamp.
	// Otherwise, Memcached will interpret a large delta as a timestamp in 1970 (expired).
	if duration > maxDelta*time.Second {
		return int32(expiresAt.Unix())
	}

	// For short durations, use delta seconds.
	// Ensure we don't return negative values.
	if duration < 0 {
		return 0
	}
	return int32(duration.Seconds())
}

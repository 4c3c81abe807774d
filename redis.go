package safesession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "sess:"

// RedisStore implements the Store interface using Redis.
type RedisStore struct {
	client         *redis.Client
	prefix         string
	maxRecordBytes int
}

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	KeyPrefix      string // Defaults to "sess:".
	MaxRecordBytes int
}

// NewRedisStore creates a new RedisStore with default configuration.
func NewRedisStore(addr string) *RedisStore {
	return NewRedisStoreWithConfig(RedisConfig{Addr: addr})
}

// NewRedisStoreWithConfig creates a new RedisStore with custom configuration.
func NewRedisStoreWithConfig(cfg RedisConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultRedisKeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client:         client,
		prefix:         cfg.KeyPrefix,
		maxRecordBytes: cfg.MaxRecordBytes,
	}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

// Read retrieves a session record from Redis.
func (s *RedisStore) Read(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	if s.maxRecordBytes > 0 && len(val) > s.maxRecordBytes {
		return nil, ErrRecordTooLarge
	}

	return val, nil
}

// Save stores a session record in Redis with a TTL derived from expiresAt.
func (s *RedisStore) Save(ctx context.Context, key string, record []byte, expiresAt time.Time) error {
	if s.maxRecordBytes > 0 && len(record) > s.maxRecordBytes {
		return ErrRecordTooLarge
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil // Already expired
	}

	if err := s.client.Set(ctx, s.key(key), record, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Destroy removes a session record from Redis.
func (s *RedisStore) Destroy(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// Cleanup is a no-op for Redis as keys expire natively.
func (s *RedisStore) Cleanup(ctx context.Context) error {
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

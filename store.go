package safesession

import (
	"fmt"
	"time"
)

// StoreType selects a backend adapter in StoreConfig.
type StoreType string

const (
	// StoreMemcached is the memcached key/value backend.
	StoreMemcached StoreType = "memcached"
	// StoreRedis is the Redis key/value backend.
	StoreRedis StoreType = "redis"
	// StorePostgres is the PostgreSQL relational backend.
	StorePostgres StoreType = "postgres"
	// StoreSQLite is the file-backed SQLite backend (CGO-free).
	StoreSQLite StoreType = "sqlite"
)

// StoreConfig describes which backend to build and how. It is consumed
// exactly once, when the Manager attaches its store. Only the fields for the
// selected Type are read.
type StoreConfig struct {
	Type StoreType

	// Memcached
	Servers []string
	Timeout time.Duration

	// Redis
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	// PostgreSQL / SQLite
	DSN string

	// MaxRecordBytes caps the size of a stored record. 0 means unlimited.
	MaxRecordBytes int
}

// NewStore builds the backend adapter described by cfg. An unrecognized
// type fails fast with ErrUnknownStoreType naming the offending value.
func NewStore(cfg StoreConfig) (Store, error) {
	switch cfg.Type {
	case StoreMemcached:
		mc := MemcachedConfig{
			Servers:        cfg.Servers,
			Timeout:        cfg.Timeout,
			MaxRecordBytes: cfg.MaxRecordBytes,
		}
		if mc.Timeout == 0 {
			mc.Timeout = 1 * time.Second
		}
		return NewMemcachedStoreWithConfig(mc), nil
	case StoreRedis:
		return NewRedisStoreWithConfig(RedisConfig{
			Addr:           cfg.Addr,
			Password:       cfg.Password,
			DB:             cfg.DB,
			KeyPrefix:      cfg.KeyPrefix,
			MaxRecordBytes: cfg.MaxRecordBytes,
		}), nil
	case StorePostgres:
		return NewPostgreSQLStore(cfg.DSN)
	case StoreSQLite:
		return NewSQLiteStoreWithConfig(SQLiteConfig{
			DSN:            cfg.DSN,
			MaxOpenConns:   16,
			MaxIdleConns:   16,
			MaxRecordBytes: cfg.MaxRecordBytes,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStoreType, cfg.Type)
	}
}

package safesession

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type PostgreSQLStore struct {
	db          *sql.DB
	saveStmt    *sql.Stmt
	readStmt    *sql.Stmt
	destroyStmt *sql.Stmt
	cleanupStmt *sql.Stmt
}

// PostgreSQLConfig holds configuration for the PostgreSQL store.
type PostgreSQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewPostgreSQLStore creates a new PostgreSQL store with default configuration.
func NewPostgreSQLStore(dsn string) (*PostgreSQLStore, error) {
	return NewPostgreSQLStoreWithConfig(PostgreSQLConfig{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	})
}

// NewPostgreSQLStoreWithConfig creates a new PostgreSQL store with custom configuration.
func NewPostgreSQLStoreWithConfig(cfg PostgreSQLConfig) (*PostgreSQLStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgresql database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgresql database: %w", err)
	}

	// Create table if not exists. The key column holds the derived storage
	// key, never the client-visible identifier.
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		key TEXT PRIMARY KEY,
		record BYTEA,
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
	`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	store := &PostgreSQLStore{db: db}

	// Prepare statements
	store.saveStmt, err = db.Prepare(`
		INSERT INTO sessions (key, record, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT(key) DO UPDATE SET
			record = EXCLUDED.record,
			expires_at = EXCLUDED.expires_at
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare save statement: %w", err)
	}

	store.readStmt, err = db.Prepare("SELECT record FROM sessions WHERE key = $1 AND expires_at > $2")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare read statement: %w", err)
	}

	store.destroyStmt, err = db.Prepare("DELETE FROM sessions WHERE key = $1")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare destroy statement: %w", err)
	}

	store.cleanupStmt, err = db.Prepare("DELETE FROM sessions WHERE expires_at < $1")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare cleanup statement: %w", err)
	}

	return store, nil
}

func (s *PostgreSQLStore) Read(ctx context.Context, key string) ([]byte, error) {
	var record []byte

	err := s.readStmt.QueryRowContext(ctx, key, time.Now()).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, nil // Not found or expired
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	return record, nil
}

func (s *PostgreSQLStore) Save(ctx context.Context, key string, record []byte, expiresAt time.Time) error {
	_, err := s.saveStmt.ExecContext(ctx, key, record, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) Destroy(ctx context.Context, key string) error {
	_, err := s.destroyStmt.ExecContext(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) Cleanup(ctx context.Context) error {
	_, err := s.cleanupStmt.ExecContext(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) Close() error {
	if s.saveStmt != nil {
		s.saveStmt.Close()
	}
	if s.readStmt != nil {
		s.readStmt.Close()
	}
	if s.destroyStmt != nil {
		s.destroyStmt.Close()
	}
	if s.cleanupStmt != nil {
		s.cleanupStmt.Close()
	}
	return s.db.Close()
}

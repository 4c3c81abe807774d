package safesession

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db             *sql.DB
	mu             sync.Mutex // Serializes writes to avoid SQLITE_BUSY
	saveStmt       *sql.Stmt
	readStmt       *sql.Stmt
	destroyStmt    *sql.Stmt
	cleanupStmt    *sql.Stmt
	maxRecordBytes int
}

// SQLiteConfig holds configuration for the SQLite store.
type SQLiteConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MaxRecordBytes  int
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{
		DSN:          dsn,
		MaxOpenConns: 16, // Allow concurrent readers (writers are serialized by mutex)
		MaxIdleConns: 16,
	})
}

func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	// Inject PRAGMAs into DSN to ensure they apply to all connections in the pool.
	// An Exec-based PRAGMA would only apply to the first connection.

	// synchronous=NORMAL is safe in WAL mode and faster.
	if !strings.Contains(cfg.DSN, "synchronous") {
		separator := "?"
		if strings.Contains(cfg.DSN, "?") {
			separator = "&"
		}
		cfg.DSN = fmt.Sprintf("%s%s_pragma=synchronous=NORMAL", cfg.DSN, separator)
	}

	// busy_timeout to wait for locks
	if !strings.Contains(cfg.DSN, "busy_timeout") {
		separator := "?"
		if strings.Contains(cfg.DSN, "?") {
			separator = "&"
		}
		cfg.DSN = fmt.Sprintf("%s%s_pragma=busy_timeout=5000", cfg.DSN, separator)
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
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

	// Enable WAL mode for better concurrent writes.
	// This is persistent for the database file, so executing it once is sufficient.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Create table if not exists
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		key TEXT PRIMARY KEY,
		record BLOB,
		expires_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
	`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	store := &SQLiteStore{
		db:             db,
		maxRecordBytes: cfg.MaxRecordBytes,
	}

	// Prepare statements
	store.saveStmt, err = db.Prepare(`
		INSERT INTO sessions (key, record, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			record = excluded.record,
			expires_at = excluded.expires_at
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare save statement: %w", err)
	}

	store.readStmt, err = db.Prepare("SELECT record FROM sessions WHERE key = ? AND expires_at > ?")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare read statement: %w", err)
	}

	store.destroyStmt, err = db.Prepare("DELETE FROM sessions WHERE key = ?")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare destroy statement: %w", err)
	}

	store.cleanupStmt, err = db.Prepare("DELETE FROM sessions WHERE expires_at < ?")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare cleanup statement: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Read(ctx context.Context, key string) ([]byte, error) {
	var record []byte

	err := s.readStmt.QueryRowContext(ctx, key, time.Now()).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, nil // Not found or expired
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	if s.maxRecordBytes > 0 && len(record) > s.maxRecordBytes {
		return nil, ErrRecordTooLarge
	}

	return record, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, record []byte, expiresAt time.Time) error {
	if s.maxRecordBytes > 0 && len(record) > s.maxRecordBytes {
		return ErrRecordTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.saveStmt.ExecContext(ctx, key, record, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Destroy(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.destroyStmt.ExecContext(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.cleanupStmt.ExecContext(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
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

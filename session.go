package safesession

import (
	"context"
	"sync"
	"time"
)

// Session is the in-memory container for one client session. It wraps the
// application data, the session identifier, and a modified flag that tells
// the Manager whether a save is actually necessary.
//
// Set/Get/Delete/Clear are safe for concurrent use. The Manager never
// mutates a Session beyond Regenerate swapping its identifier.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.RWMutex
	values   map[string]any
	modified bool
}

// Set stores a value and marks the session as modified.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]any)
	}
	s.values[key] = value
	s.modified = true
}

// Get retrieves a value.
func (s *Session) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Delete removes a value and marks the session as modified.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.modified = true
	}
}

// Clear wipes all values from the session. Values are overwritten before the
// map entries are dropped so sensitive data does not linger in memory.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.values {
		s.values[k] = nil
		delete(s.values, k)
	}
	s.modified = true
}

// IsModified reports whether the session has pending changes. The Manager
// consults this before writing: an unmodified session is never persisted.
func (s *Session) IsModified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modified
}

// Len returns the number of stored values.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// snapshot returns a copy of the values map so the Manager can serialize it
// without racing concurrent Set/Delete calls.
func (s *Session) snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *Session) setModified() {
	s.mu.Lock()
	s.modified = true
	s.mu.Unlock()
}

// Store defines the interface for session record persistence. Implementations
// receive opaque storage keys and opaque record bytes; signing, key
// derivation and encryption all happen above this layer.
type Store interface {
	// Save writes a record under key. expiresAt is the advisory lifetime;
	// stores with native TTL support translate it, SQL stores persist it.
	Save(ctx context.Context, key string, record []byte, expiresAt time.Time) error
	// Read retrieves the record stored under key. A missing or expired
	// record yields (nil, nil), not an error.
	Read(ctx context.Context, key string) ([]byte, error)
	// Destroy removes the record stored under key.
	Destroy(ctx context.Context, key string) error
	// Cleanup removes expired records from the store.
	Cleanup(ctx context.Context) error
	// Close closes the store.
	Close() error
}

package safesession

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Manager orchestrates the identifier-security pipeline around a pluggable
// Store: it verifies signed identifiers, derives storage keys, seals and
// opens records, and sequences save/read/destroy against the backend.
//
// A Manager is constructed without a store; exactly one store is attached
// afterwards via Attach or AttachStore. The binding is set-once and
// immutable: later attach attempts are silently ignored.
type Manager struct {
	mu    sync.RWMutex // guards store attachment
	store Store

	ttl            time.Duration
	signer         signer
	encrypt        bool
	maxRecordBytes int
	cleanup        time.Duration
	logger         *slog.Logger
	stopChan       chan struct{}
	stopOnce       sync.Once
}

// Config configures a Manager. Optional behaviors are explicit: an empty
// Secret disables identifier signing, Encrypt false disables both record
// encryption and storage-key hashing.
type Config struct {
	// TTL is the record lifetime hint passed to the store. Defaults to 24h.
	TTL time.Duration
	// Secret is the HMAC signing key for identifiers. Empty disables signing.
	Secret string
	// Encrypt enables record encryption at rest and storage-key hashing.
	Encrypt bool
	// CleanupInterval is the period of the background cleanup worker.
	// Defaults to 10 minutes.
	CleanupInterval time.Duration
	// MaxRecordBytes caps the serialized record size. 0 means unlimited.
	MaxRecordBytes int
	// Logger receives warnings for degraded records. Defaults to slog.Default().
	Logger *slog.Logger
}

// recordEnvelope is the serialized form of a session record.
type recordEnvelope struct {
	CreatedAt time.Time      `json:"created_at"`
	Values    map[string]any `json:"values"`
}

func NewManager(cfg Config) *Manager {
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		ttl:            cfg.TTL,
		signer:         newSigner(cfg.Secret),
		encrypt:        cfg.Encrypt,
		maxRecordBytes: cfg.MaxRecordBytes,
		cleanup:        cfg.CleanupInterval,
		logger:         cfg.Logger,
		stopChan:       make(chan struct{}),
	}
}

// Attach builds the store described by cfg and binds it to the Manager.
// If a store is already attached, cfg is not consumed and the call is a
// silent no-op. An unknown store type fails with ErrUnknownStoreType.
func (m *Manager) Attach(cfg StoreConfig) error {
	if m.getStore() != nil {
		m.logger.Debug("session store already attached, ignoring")
		return nil
	}
	store, err := NewStore(cfg)
	if err != nil {
		return err
	}
	if !m.AttachStore(store) {
		// Lost the race against a concurrent attach.
		store.Close()
	}
	return nil
}

// AttachStore binds an already-built store to the Manager. It reports
// whether the store was adopted; a Manager with a store attached never
// replaces it.
func (m *Manager) AttachStore(s Store) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store != nil {
		m.logger.Debug("session store already attached, ignoring")
		return false
	}
	m.store = s
	go m.cleanupWorker()
	return true
}

func (m *Manager) getStore() Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store
}

func (m *Manager) cleanupWorker() {
	ticker := time.NewTicker(m.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_ = m.getStore().Cleanup(ctx)
			cancel()
		case <-m.stopChan:
			return
		}
	}
}

// Close stops the cleanup worker and closes the attached store, if any.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.stopChan) })
	if s := m.getStore(); s != nil {
		return s.Close()
	}
	return nil
}

// NewSession returns a fresh session with a generated identifier and no
// values. It is not persisted until Save.
func (m *Manager) NewSession() *Session {
	return &Session{
		ID:        GenerateID(),
		CreatedAt: time.Now(),
		values:    make(map[string]any),
	}
}

// SignID appends the HMAC signature to a raw identifier. With no Secret
// configured the identifier is returned unchanged.
func (m *Manager) SignID(id string) string {
	return m.signer.Sign(id)
}

// VerifyID validates a signed identifier and returns the raw identifier.
// A false result means the identifier was forged, tampered with, or
// malformed, and the caller must not treat it as a valid session.
func (m *Manager) VerifyID(candidate string) (string, bool) {
	return m.signer.Verify(candidate)
}

// Save persists the session if it actually needs saving. It reports whether
// a write happened: a session with no identifier, no values, or no pending
// modifications resolves (false, nil) without touching the store.
//
// The record is serialized, sealed with the identifier as key material, and
// written under the derived storage key. Store errors pass through unchanged.
func (m *Manager) Save(ctx context.Context, s *Session) (bool, error) {
	store := m.getStore()
	if store == nil {
		return false, ErrNotReady
	}
	if s == nil {
		return false, ErrInvalidSession
	}
	if s.ID == "" {
		return false, nil
	}

	values := s.snapshot()
	if len(values) == 0 {
		return false, nil
	}
	if !s.IsModified() {
		return false, nil
	}

	plain, err := json.Marshal(recordEnvelope{
		CreatedAt: s.CreatedAt,
		Values:    values,
	})
	if err != nil {
		return false, err
	}
	if m.maxRecordBytes > 0 && len(plain) > m.maxRecordBytes {
		return false, ErrRecordTooLarge
	}

	record := m.seal(s.ID, plain)
	if len(record) > 0 && record[0] == sealedPrefix {
		// The sealed copy is what gets stored; scrub the plaintext.
		clear(plain)
	}

	if err := store.Save(ctx, deriveStorageKey(s.ID, m.encrypt), record, time.Now().Add(m.ttl)); err != nil {
		return false, err
	}
	return true, nil
}

// Read fetches, opens and decodes the record for id and reconstructs a
// Session. A missing record resolves (nil, nil). A record that cannot be
// decrypted or parsed degrades to an empty session with a logged warning,
// never a hard error: a corrupted record costs the client its session data,
// not an outage.
func (m *Manager) Read(ctx context.Context, id string) (*Session, error) {
	store := m.getStore()
	if store == nil {
		return nil, ErrNotReady
	}

	record, err := store.Read(ctx, deriveStorageKey(id, m.encrypt))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		values:    make(map[string]any),
	}

	plain, ok := m.open(id, record)
	if !ok || len(plain) == 0 {
		return s, nil
	}

	var env recordEnvelope
	if err := json.Unmarshal(plain, &env); err != nil {
		m.logger.Warn("session record is not valid JSON", "error", err)
		return s, nil
	}
	if !env.CreatedAt.IsZero() {
		s.CreatedAt = env.CreatedAt
	}
	if env.Values != nil {
		s.values = env.Values
	}
	return s, nil
}

// ReadSession is Read for callers that hold a Session rather than an
// identifier.
func (m *Manager) ReadSession(ctx context.Context, s *Session) (*Session, error) {
	if s == nil {
		return nil, ErrInvalidSession
	}
	return m.Read(ctx, s.ID)
}

// ReadRaw fetches and opens the record for id without reconstructing a
// Session. The returned bytes are the opened record: decoded plaintext for
// sealed records, the stored bytes otherwise. Undecryptable records yield
// nil. A missing record resolves (nil, nil).
func (m *Manager) ReadRaw(ctx context.Context, id string) ([]byte, error) {
	store := m.getStore()
	if store == nil {
		return nil, ErrNotReady
	}

	record, err := store.Read(ctx, deriveStorageKey(id, m.encrypt))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	plain, _ := m.open(id, record)
	return plain, nil
}

// Destroy removes the record for id. The store result passes through
// unchanged; destroying a nonexistent session is not an error.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	store := m.getStore()
	if store == nil {
		return ErrNotReady
	}
	return store.Destroy(ctx, deriveStorageKey(id, m.encrypt))
}

// DestroySession removes the record for the session's identifier and wipes
// the in-memory values regardless of the store outcome, so sensitive data
// does not survive a failed delete.
func (m *Manager) DestroySession(ctx context.Context, s *Session) error {
	if s == nil {
		return ErrInvalidSession
	}
	defer s.Clear()
	return m.Destroy(ctx, s.ID)
}

// Regenerate swaps the session's identifier to prevent session fixation:
// the session is saved under a new identifier and the old record removed.
// On save failure the old identifier is restored. If the old record cannot
// be deleted, the new record is rolled back and the error returned, so the
// old identifier is never left silently valid alongside a new one.
func (m *Manager) Regenerate(ctx context.Context, s *Session) error {
	if m.getStore() == nil {
		return ErrNotReady
	}
	if s == nil {
		return ErrInvalidSession
	}

	oldID := s.ID
	s.ID = GenerateID()
	s.setModified()

	if _, err := m.Save(ctx, s); err != nil {
		s.ID = oldID
		return err
	}

	if err := m.Destroy(ctx, oldID); err != nil {
		// Fail closed: do not leave both identifiers valid.
		_ = m.Destroy(ctx, s.ID)
		s.ID = oldID
		return err
	}
	return nil
}

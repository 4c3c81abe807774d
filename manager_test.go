package safesession

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockStore keeps records in memory and counts calls so tests can assert
// which operations actually reached the backend.
type mockStore struct {
	mu       sync.Mutex
	records  map[string][]byte
	saves    int
	reads    int
	destroys int

	saveErr error
	readErr error
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string][]byte)}
}

func (m *mockStore) Save(ctx context.Context, key string, record []byte, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records[key] = append([]byte(nil), record...)
	return nil
}

func (m *mockStore) Read(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}
	record, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return record, nil
}

func (m *mockStore) Destroy(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroys++
	delete(m.records, key)
	return nil
}

func (m *mockStore) Cleanup(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                      { return nil }

func newTestManager(t *testing.T, cfg Config) (*Manager, *mockStore) {
	t.Helper()
	mgr := NewManager(cfg)
	t.Cleanup(func() { mgr.Close() })
	store := newMockStore()
	if !mgr.AttachStore(store) {
		t.Fatal("failed to attach store")
	}
	return mgr, store
}

func TestManager_NotReady(t *testing.T) {
	mgr := NewManager(Config{})
	defer mgr.Close()

	ctx := context.Background()
	s := mgr.NewSession()
	s.Set("k", "v")

	if _, err := mgr.Save(ctx, s); !errors.Is(err, ErrNotReady) {
		t.Errorf("Save before attach: expected ErrNotReady, got %v", err)
	}
	if _, err := mgr.Read(ctx, s.ID); !errors.Is(err, ErrNotReady) {
		t.Errorf("Read before attach: expected ErrNotReady, got %v", err)
	}
	if err := mgr.Destroy(ctx, s.ID); !errors.Is(err, ErrNotReady) {
		t.Errorf("Destroy before attach: expected ErrNotReady, got %v", err)
	}
	if err := mgr.Regenerate(ctx, s); !errors.Is(err, ErrNotReady) {
		t.Errorf("Regenerate before attach: expected ErrNotReady, got %v", err)
	}
}

func TestManager_InvalidSession(t *testing.T) {
	mgr, _ := newTestManager(t, Config{})
	ctx := context.Background()

	if _, err := mgr.Save(ctx, nil); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Save(nil): expected ErrInvalidSession, got %v", err)
	}
	if err := mgr.DestroySession(ctx, nil); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("DestroySession(nil): expected ErrInvalidSession, got %v", err)
	}
	if _, err := mgr.ReadSession(ctx, nil); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("ReadSession(nil): expected ErrInvalidSession, got %v", err)
	}
}

func TestManager_NoSavePerformed(t *testing.T) {
	mgr, store := newTestManager(t, Config{})
	ctx := context.Background()

	t.Run("Unmodified", func(t *testing.T) {
		fresh := mgr.NewSession()
		fresh.Set("k", "v")
		if _, err := mgr.Save(ctx, fresh); err != nil {
			t.Fatalf("priming save failed: %v", err)
		}

		loaded, err := mgr.Read(ctx, fresh.ID)
		if err != nil || loaded == nil {
			t.Fatalf("read back failed: %v", err)
		}
		before := store.saves
		saved, err := mgr.Save(ctx, loaded)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if saved {
			t.Error("unmodified session must not be saved")
		}
		if store.saves != before {
			t.Error("unmodified session save touched the store")
		}
	})

	t.Run("Empty Values", func(t *testing.T) {
		before := store.saves
		saved, err := mgr.Save(ctx, mgr.NewSession())
		if err != nil || saved {
			t.Errorf("expected (false, nil), got (%v, %v)", saved, err)
		}
		if store.saves != before {
			t.Error("empty session save touched the store")
		}
	})

	t.Run("Empty ID", func(t *testing.T) {
		s := &Session{}
		s.Set("k", "v")
		saved, err := mgr.Save(ctx, s)
		if err != nil || saved {
			t.Errorf("expected (false, nil), got (%v, %v)", saved, err)
		}
	})
}

func TestManager_SaveReadDestroy(t *testing.T) {
	mgr, store := newTestManager(t, Config{Secret: "s", Encrypt: true})
	ctx := context.Background()

	s := mgr.NewSession()
	s.Set("user", "alice")
	s.Set("count", 3)

	saved, err := mgr.Save(ctx, s)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if !saved {
		t.Fatal("expected a save to happen")
	}

	// The backend must see the derived key and the sealed record, never the
	// raw identifier or the plaintext.
	if _, ok := store.records[s.ID]; ok {
		t.Error("record stored under the raw identifier")
	}
	key := deriveStorageKey(s.ID, true)
	record, ok := store.records[key]
	if !ok {
		t.Fatal("record not stored under the derived key")
	}
	if record[0] != sealedPrefix {
		t.Error("stored record is not an encrypted envelope")
	}
	if strings.Contains(string(record), "alice") {
		t.Error("plaintext session data visible in the stored record")
	}

	loaded, err := mgr.Read(ctx, s.ID)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("session not found")
	}
	if loaded.ID != s.ID {
		t.Errorf("expected ID %q, got %q", s.ID, loaded.ID)
	}
	if v, _ := loaded.Get("user"); v != "alice" {
		t.Errorf("unexpected user value: %v", v)
	}
	// JSON round trip decodes numbers as float64.
	if v, _ := loaded.Get("count"); v != float64(3) {
		t.Errorf("unexpected count value: %v", v)
	}
	if loaded.IsModified() {
		t.Error("freshly read session must not be marked modified")
	}

	if err := mgr.Destroy(ctx, s.ID); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	loaded, err = mgr.Read(ctx, s.ID)
	if err != nil {
		t.Fatalf("read after destroy failed: %v", err)
	}
	if loaded != nil {
		t.Error("expected session to be gone after destroy")
	}
}

func TestManager_ReadMiss(t *testing.T) {
	mgr, _ := newTestManager(t, Config{})

	s, err := mgr.Read(context.Background(), GenerateID())
	if err != nil {
		t.Errorf("a missing record must not be an error, got %v", err)
	}
	if s != nil {
		t.Errorf("expected no session, got %+v", s)
	}
}

func TestManager_BackendErrorPassThrough(t *testing.T) {
	mgr, store := newTestManager(t, Config{})
	ctx := context.Background()

	backendErr := errors.New("connection refused")
	store.saveErr = backendErr

	s := mgr.NewSession()
	s.Set("k", "v")
	if _, err := mgr.Save(ctx, s); !errors.Is(err, backendErr) {
		t.Errorf("expected backend error passed through, got %v", err)
	}

	store.readErr = backendErr
	if _, err := mgr.Read(ctx, s.ID); !errors.Is(err, backendErr) {
		t.Errorf("expected backend error passed through, got %v", err)
	}
}

func TestManager_CorruptRecordDegrades(t *testing.T) {
	mgr, store := newTestManager(t, Config{Encrypt: true})
	ctx := context.Background()

	s := mgr.NewSession()
	s.Set("user", "alice")
	if _, err := mgr.Save(ctx, s); err != nil {
		t.Fatal(err)
	}

	key := deriveStorageKey(s.ID, true)

	t.Run("Undecryptable", func(t *testing.T) {
		corrupted := append([]byte(nil), store.records[key]...)
		corrupted[len(corrupted)-1] ^= 0xff
		store.records[key] = corrupted

		loaded, err := mgr.Read(ctx, s.ID)
		if err != nil {
			t.Fatalf("corrupted record must degrade, not error: %v", err)
		}
		if loaded == nil {
			t.Fatal("expected an empty session, got none")
		}
		if loaded.Len() != 0 {
			t.Errorf("expected empty values, got %d entries", loaded.Len())
		}
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		store.records[key] = []byte("not json at all")

		loaded, err := mgr.Read(ctx, s.ID)
		if err != nil {
			t.Fatalf("unparsable record must degrade, not error: %v", err)
		}
		if loaded == nil || loaded.Len() != 0 {
			t.Error("expected an empty session for unparsable record")
		}

		// ReadRaw still exposes the raw bytes.
		raw, err := mgr.ReadRaw(ctx, s.ID)
		if err != nil {
			t.Fatal(err)
		}
		if string(raw) != "not json at all" {
			t.Errorf("ReadRaw should return the stored bytes, got %q", raw)
		}
	})
}

func TestManager_RecordTooLarge(t *testing.T) {
	mgr, store := newTestManager(t, Config{MaxRecordBytes: 64})
	ctx := context.Background()

	s := mgr.NewSession()
	s.Set("blob", strings.Repeat("A", 1024))

	if _, err := mgr.Save(ctx, s); !errors.Is(err, ErrRecordTooLarge) {
		t.Errorf("expected ErrRecordTooLarge, got %v", err)
	}
	if store.saves != 0 {
		t.Error("oversized record must be rejected before the store")
	}
}

func TestManager_AttachOnce(t *testing.T) {
	mgr, store := newTestManager(t, Config{})

	if mgr.AttachStore(newMockStore()) {
		t.Error("second AttachStore must be rejected")
	}
	if mgr.getStore() != Store(store) {
		t.Error("attached store was replaced")
	}

	// Attach with a config after a store is bound is a silent no-op, even
	// for a config that would otherwise fail.
	if err := mgr.Attach(StoreConfig{Type: "bogus"}); err != nil {
		t.Errorf("post-attach Attach must be ignored, got %v", err)
	}
}

func TestManager_AttachUnknownType(t *testing.T) {
	mgr := NewManager(Config{})
	defer mgr.Close()

	err := mgr.Attach(StoreConfig{Type: "etcd"})
	if !errors.Is(err, ErrUnknownStoreType) {
		t.Fatalf("expected ErrUnknownStoreType, got %v", err)
	}
	if !strings.Contains(err.Error(), "etcd") {
		t.Errorf("error should name the unsupported type, got %q", err.Error())
	}
}

func TestManager_Regenerate(t *testing.T) {
	mgr, store := newTestManager(t, Config{Encrypt: true})
	ctx := context.Background()

	s := mgr.NewSession()
	s.Set("user_id", "123")
	if _, err := mgr.Save(ctx, s); err != nil {
		t.Fatal(err)
	}
	oldID := s.ID
	oldKey := deriveStorageKey(oldID, true)

	if err := mgr.Regenerate(ctx, s); err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}

	if s.ID == oldID {
		t.Error("expected a new session id")
	}
	if _, ok := store.records[oldKey]; ok {
		t.Error("old record still present after regenerate")
	}
	loaded, err := mgr.Read(ctx, s.ID)
	if err != nil || loaded == nil {
		t.Fatalf("new session not readable: %v", err)
	}
	if v, _ := loaded.Get("user_id"); v != "123" {
		t.Errorf("session data lost during regenerate: %v", v)
	}
}

func TestManager_SignVerifyFacade(t *testing.T) {
	mgr, _ := newTestManager(t, Config{Secret: "s"})

	id := GenerateID()
	signed := mgr.SignID(id)
	if signed == id {
		t.Fatal("expected the facade to sign the id")
	}
	got, ok := mgr.VerifyID(signed)
	if !ok || got != id {
		t.Errorf("facade verify failed: %q, %v", got, ok)
	}
}

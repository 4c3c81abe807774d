/*
Package safesession provides a security-focused session layer that mediates
between client-held opaque session identifiers and server-side session
records stored in a pluggable backend.

The Manager owns the identifier-security pipeline: it generates high-entropy
identifiers, signs and verifies them with a keyed HMAC, derives a one-way
storage key that decorrelates the public identifier from the at-rest record,
optionally encrypts the record with AES-256-GCM keyed by the identifier, and
sequences save/read/destroy against the attached store.

Key Features:

  - Pluggable storage: Memcached, Redis, PostgreSQL and SQLite (CGO-free)
    adapters behind one Store interface, selected by StoreConfig.
  - Unforgeable identifiers: HMAC-signed identifiers with constant-time
    verification; a forged or tampered identifier never reaches the backend.
  - At-rest decorrelation: with encryption enabled, the backend key is a
    one-way hash of the identifier, so backend read access does not reveal
    client cookie values.
  - Fail-safe reads: an undecryptable or unparsable record degrades to an
    empty session with a logged warning instead of an error.
  - Set-once store binding: the store is attached exactly once and is
    immutable afterwards.
  - Automatic cleanup: a background worker removes expired records from
    stores without native TTL support.

Usage:

Construct a Manager, attach a store, and drive the three operations with the
verified identifier:

	mgr := safesession.NewManager(safesession.Config{
		TTL:     time.Hour,
		Secret:  "signing-secret",
		Encrypt: true,
	})
	defer mgr.Close()

	if err := mgr.Attach(safesession.StoreConfig{
		Type: safesession.StoreSQLite,
		DSN:  "sessions.db",
	}); err != nil {
		log.Fatal(err)
	}

	session := mgr.NewSession()
	session.Set("user_id", 42)
	if _, err := mgr.Save(ctx, session); err != nil {
		log.Fatal(err)
	}

	// Hand the signed identifier to the client...
	cookie := mgr.SignID(session.ID)

	// ...and verify it on the way back in.
	if id, ok := mgr.VerifyID(cookie); ok {
		session, err := mgr.Read(ctx, id)
		_ = session
		_ = err
	}

Store Implementations:

  - SQLite: uses modernc.org/sqlite for a CGO-free, file-backed store.
  - PostgreSQL: uses github.com/lib/pq for relational storage.
  - Memcached: uses github.com/bradfitz/gomemcache for in-memory caching.
  - Redis: uses github.com/redis/go-redis for in-memory caching with
    native key expiry.

Thread Safety:

The Manager and Store implementations are safe for concurrent use by
multiple goroutines. Session values are guarded by the Session's own lock;
concurrent operations on the same identifier are not serialized by this
layer and resolve last-write-wins at the backend.
*/
package safesession

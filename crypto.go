package safesession

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// sealedPrefix marks an encrypted record. JSON text can never begin with a
// 0x01 byte, so a plaintext record and an encrypted envelope are always
// distinguishable by their first byte.
const sealedPrefix byte = 0x01

// cipherKeyPrefix domain-separates the cipher key from the storage key.
// The storage key is hex(SHA-256(id)); without separation, anyone who can
// read the backend keyspace could reconstruct the cipher key from it.
const cipherKeyPrefix = "safesession/record\x00"

// deriveStorageKey maps the raw identifier to the key used in the backend.
// With encryption at rest enabled the key is a one-way hash, so an operator
// or attacker with read access to the backend cannot correlate stored
// records back to client-visible cookie values. Disabled, the identifier is
// used directly.
func deriveStorageKey(rawID string, encrypt bool) string {
	if !encrypt {
		return rawID
	}
	sum := sha256.Sum256([]byte(rawID))
	return hex.EncodeToString(sum[:])
}

// cipherKey derives the AES-256 key for a record from the raw identifier.
// Keying by the identifier (not the storage key) means decryption requires
// knowledge of the original identifier the client holds.
func cipherKey(rawID string) []byte {
	sum := sha256.Sum256([]byte(cipherKeyPrefix + rawID))
	return sum[:]
}

// seal encrypts a serialized record with AES-256-GCM keyed by the raw
// identifier and prepends the envelope marker. Encryption here is a
// best-effort hardening layer, not a hard security boundary: on any cipher
// failure the plaintext is stored unchanged and a warning is logged.
func (m *Manager) seal(rawID string, plain []byte) []byte {
	if !m.encrypt || len(plain) == 0 {
		return plain
	}

	block, err := aes.NewCipher(cipherKey(rawID))
	if err != nil {
		m.logger.Warn("record encryption unavailable, storing plaintext", "error", err)
		return plain
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		m.logger.Warn("record encryption unavailable, storing plaintext", "error", err)
		return plain
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		m.logger.Warn("record encryption unavailable, storing plaintext", "error", err)
		return plain
	}

	out := make([]byte, 1, 1+gcm.NonceSize()+len(plain)+gcm.Overhead())
	out[0] = sealedPrefix
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plain, nil)
}

// open reverses seal. A record without the envelope marker was never
// encrypted and is returned unchanged, regardless of the current encryption
// setting, so records written before a configuration change stay readable.
// A sealed record that fails to decrypt yields (nil, false); the caller
// substitutes an empty session rather than surfacing garbage or an error.
func (m *Manager) open(rawID string, record []byte) ([]byte, bool) {
	if len(record) == 0 || record[0] != sealedPrefix {
		return record, true
	}

	block, err := aes.NewCipher(cipherKey(rawID))
	if err != nil {
		m.logger.Warn("record decryption failed", "error", err)
		return nil, false
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		m.logger.Warn("record decryption failed", "error", err)
		return nil, false
	}

	body := record[1:]
	if len(body) < gcm.NonceSize() {
		m.logger.Warn("record decryption failed", "error", "envelope too short")
		return nil, false
	}

	plain, err := gcm.Open(nil, body[:gcm.NonceSize()], body[gcm.NonceSize():], nil)
	if err != nil {
		m.logger.Warn("record decryption failed", "error", err)
		return nil, false
	}
	return plain, true
}

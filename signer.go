package safesession

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"strings"
)

// signatureDelimiter separates the raw identifier from its signature.
// A signed identifier contains exactly one occurrence of it.
const signatureDelimiter = "."

// signer appends and validates keyed HMAC-SHA1 signatures over raw session
// identifiers. An empty secret disables signing entirely: Sign and Verify
// become pass-throughs. The signature prevents a client from presenting an
// identifier the server never issued.
type signer struct {
	secret []byte
}

func newSigner(secret string) signer {
	if secret == "" {
		return signer{}
	}
	return signer{secret: []byte(secret)}
}

func (sg signer) enabled() bool {
	return len(sg.secret) > 0
}

// Sign appends the signature to a raw identifier. It is idempotent: an
// identifier that already carries the delimiter is returned unchanged, so a
// signed identifier is never double-signed.
func (sg signer) Sign(raw string) string {
	if !sg.enabled() || raw == "" {
		return raw
	}
	if strings.Contains(raw, signatureDelimiter) {
		return raw
	}
	return raw + signatureDelimiter + sg.mac(raw)
}

// Verify checks a signed identifier and returns the raw identifier on
// success. Anything that does not split into exactly two non-empty segments
// is rejected. The comparison is constant-time to defeat timing side
// channels.
func (sg signer) Verify(candidate string) (string, bool) {
	if !sg.enabled() {
		return candidate, true
	}
	raw, sig, found := strings.Cut(candidate, signatureDelimiter)
	if !found || raw == "" || sig == "" {
		return "", false
	}
	if strings.Contains(sig, signatureDelimiter) {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(sig), []byte(sg.mac(raw))) != 1 {
		return "", false
	}
	return raw, true
}

func (sg signer) mac(raw string) string {
	m := hmac.New(sha1.New, sg.secret)
	io.WriteString(m, raw)
	return hex.EncodeToString(m.Sum(nil))
}

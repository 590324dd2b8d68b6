// Package signature verifies payment webhook payloads.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Verify checks a hex HMAC-SHA256 of payload under secret in constant time.
// An empty secret or signature never verifies.
func Verify(payload []byte, sig string, secret string) bool {
	sig = strings.TrimPrefix(strings.TrimSpace(sig), "sha256=")
	if secret == "" || sig == "" {
		return false
	}

	given, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(given, sum(payload, secret))
}

// Sign returns the hex signature Verify accepts. Used by tests and tooling.
func Sign(payload []byte, secret string) string {
	if secret == "" {
		return ""
	}
	return hex.EncodeToString(sum(payload, secret))
}

func sum(payload []byte, secret string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return h.Sum(nil)
}

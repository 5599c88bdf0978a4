package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// Verify checks a base64-encoded HMAC-SHA256 signature against the raw,
// unparsed request body. It must run before any structural parsing of the
// body: re-serialization is not byte-stable and would invalidate the digest.
// Malformed input never panics, it just fails verification.
func Verify(secret string, body []byte, provided string) bool {
	if provided == "" {
		return false
	}
	expected := Sign(secret, body)
	if len(expected) != len(provided) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

// Sign computes the base64-encoded HMAC-SHA256 digest for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

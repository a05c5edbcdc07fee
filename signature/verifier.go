package signature

import "crypto/hmac"

// Verify checks whether the given signature matches the expected HMAC-SHA256
// signature for the payload and secret. The comparison is constant-time.
func Verify(secret string, payload []byte, sig string) bool {
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(sig))
}

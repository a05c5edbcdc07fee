// Package signature provides HMAC-SHA256 webhook signing and verification.
//
// The signature covers the exact envelope bytes transmitted on the wire, so
// receivers can recompute it from the raw request body without re-serializing.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Header is the HTTP header carrying the payload signature.
const Header = "X-Webhook-Signature"

// Sign generates the HMAC-SHA256 signature for the given payload bytes.
// Returns the header value in the format "sha256=<hex>".
// Deterministic: the same (secret, payload) pair always yields the same
// signature.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

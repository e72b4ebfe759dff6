package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Sign returns the hex HMAC-SHA256 of the payload keyed by the secret.
func Sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// SignatureHeader builds the X-Webhook-Signature value: "sha256=" plus the
// hex HMAC over the canonical JSON form of the payload.
func SignatureHeader(secret string, canonical []byte) string {
	return "sha256=" + Sign(secret, canonical)
}

// CanonicalJSON serializes the payload with sorted keys so both sides of a
// delivery compute the signature over identical bytes. encoding/json
// already emits map keys in sorted order, at every nesting level.
func CanonicalJSON(payload map[string]interface{}) ([]byte, error) {
	return json.Marshal(payload)
}

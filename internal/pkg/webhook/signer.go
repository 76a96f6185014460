package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Header names carried on every delivery. The signature covers the raw
// request body bytes; the event header duplicates the payload type so
// consumers can route before parsing.
const (
	SignatureHeader   = "X-ArcPay-Signature"
	EventTypeHeader   = "X-ArcPay-Event"
	IdempotencyHeader = "X-ArcPay-Event-Id"
)

// Sign computes the hex HMAC-SHA256 digest of the payload under the
// subscription's signing secret. The payload bytes are the stored,
// serialized-once event JSON; signing anything re-serialized would break
// downstream verification.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature header against the payload.
// Provided for consumers and tests; comparison is constant-time.
func VerifySignature(payload []byte, signatureHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || secret == "" {
		return false
	}
	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decoded)
}

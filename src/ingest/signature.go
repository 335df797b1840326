package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the sender's HMAC over the raw request body.
const SignatureHeader = "X-Webhook-Signature"

// Sign computes the hex HMAC-SHA256 of the body under the shared secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the presented signature against the body in
// constant time. An optional "sha256=" prefix is accepted.
func VerifySignature(body []byte, presented, secret string) bool {
	presented = strings.TrimPrefix(strings.TrimSpace(presented), "sha256=")

	got, err := hex.DecodeString(presented)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hmac.Equal(got, mac.Sum(nil))
}

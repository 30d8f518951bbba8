// Package webhook validates and classifies inbound source-control webhooks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// VerifySignature checks that header carries a valid HMAC-SHA-256 signature of
// body under secret, in the "sha256=<hex>" form GitHub sends in
// X-Hub-Signature-256.
//
// An empty secret disables verification and accepts everything. That is a
// deliberate operational escape hatch for environments without a shared
// secret, not a security recommendation. With a secret configured, a missing
// or malformed header is rejected.
func VerifySignature(body []byte, header, secret string) bool {
	if secret == "" {
		return true
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	claimed := strings.TrimPrefix(header, signaturePrefix)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// hmac.Equal is constant-time.
	return hmac.Equal([]byte(claimed), []byte(expected))
}

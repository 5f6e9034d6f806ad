// Package webhook signs and verifies HMAC-SHA256 webhook payloads and
// delivers signed events to an HTTP endpoint.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// SignPayload returns the lowercase hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC-SHA256 of the exact
// payload bytes under secret. An optional "sha256=" prefix is accepted. It
// returns false for an empty secret, an empty or non-hex signature, or a
// mismatch.
func VerifySignature(payload []byte, secret, signature string) bool {
	if secret == "" {
		return false
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), signaturePrefix)
	if len(signature) != sha256.Size*2 {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), got)
}

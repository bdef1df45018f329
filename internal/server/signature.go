package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	SignaturePrefix = "sha256="
)

// Sign returns the X-Hub-Signature-256 value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies the HMAC-SHA256 signature from GitHub webhook
func VerifySignature(payload []byte, signature, secret string) bool {
	if secret == "" || !strings.HasPrefix(signature, SignaturePrefix) {
		return false
	}
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
)

const (
	// MinTokenLength is the minimum allowed length for the admin API token.
	MinTokenLength = 32

	// MinEntropy is the minimum Shannon entropy threshold for tokens.
	MinEntropy = 3.5
)

var placeholderTokens = []string{"replace", "changeme", "topsecret", "password", "secret"}

// ValidateToken ensures the admin API token is long, random-looking and not
// a placeholder.
func ValidateToken(token string) error {
	if len(token) < MinTokenLength {
		return fmt.Errorf("token too short (minimum %d characters, got %d)", MinTokenLength, len(token))
	}

	lower := strings.ToLower(token)
	for _, placeholder := range placeholderTokens {
		if strings.Contains(lower, placeholder) {
			return fmt.Errorf("token appears to be a placeholder value")
		}
	}

	entropy := calculateEntropy(token)
	if entropy < MinEntropy {
		return fmt.Errorf("token has insufficient entropy (%.2f < %.2f) - use a more random token", entropy, MinEntropy)
	}

	return nil
}

// GenerateToken creates a cryptographically secure random token.
// Returns a 48-character base64-encoded string.
func GenerateToken() (string, error) {
	bytes := make([]byte, 36)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// TokenEqual compares two tokens in constant time.
func TokenEqual(expected, got string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// calculateEntropy computes the Shannon entropy of a string.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	// H = -Σ(p(x) * log2(p(x)))
	var entropy float64
	length := float64(len(s))
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}

package keygen

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// SigningSecret generates a random HMAC signing secret of n bytes, base64 (URL-safe) encoded
func SigningSecret(n int) (string, error) {
	if n < 16 {
		return "", fmt.Errorf("signing secret must be at least 16 bytes, got %d", n)
	}
	secretBytes := make([]byte, n)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(secretBytes), nil
}

// TokenID generates a unique token identifier (UUID format)
func TokenID() string {
	return uuid.New().String()
}

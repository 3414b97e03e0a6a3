package statedir

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

var secretPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// NewGatewaySecret returns a fresh 64-character lowercase hex token.
func NewGatewaySecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate gateway secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidSecret reports whether value is a well-formed gateway secret.
func ValidSecret(value string) bool {
	return secretPattern.MatchString(value)
}

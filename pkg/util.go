package pkg

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"unsafe"
)

// BytesToString converts bytes slice to a string without extra allocation.
// buf must not be modified afterwards.
func BytesToString(buf []byte) string {
	return unsafe.String(unsafe.SliceData(buf), len(buf))
}

// CommandOutput turns the raw output of an exec'd command into a single trimmed line.
func CommandOutput(out []byte) string {
	return strings.TrimSpace(BytesToString(out))
}

// RandomToken returns n URL-safe characters drawn from the system's secure random source.
// Used for PKCE code verifiers, so n must be within 43..128 for that purpose.
func RandomToken(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("token length must be greater than 0")
	}
	// 3 random bytes encode to 4 characters
	b := make([]byte, (n*3+3)/4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}

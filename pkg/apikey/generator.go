package apikey

import (
	"crypto/rand"
	"encoding/base64"
)

// Prefix marks ksefbridge API keys.
const Prefix = "kbak_"

// DefaultLength is the key body length in bytes.
const DefaultLength = 32

// Generate generates a cryptographically secure random API key.
func Generate() (string, error) {
	body, err := GenerateBytes(DefaultLength)
	if err != nil {
		return "", err
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(body), nil
}

// GenerateBytes generates random bytes.
func GenerateBytes(length int) ([]byte, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

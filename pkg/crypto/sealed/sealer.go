package sealed

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	version1 = 0x01

	// MinSecretLength is the shortest accepted master secret.
	MinSecretLength = 16

	hkdfInfo = "ksefbridge/sealed/v1"
	keySize  = 32
)

// Errors.
var (
	ErrSecretTooShort = errors.New("sealed: master secret too short (minimum 16 bytes)")
	ErrCorrupted      = errors.New("sealed: wrong key or corrupted data")
)

// Sealer seals and opens values with a key derived from a master secret.
// It is safe for concurrent use.
type Sealer struct {
	key    []byte
	cipher CipherType
}

// NewSealer derives the data key from secret. A secret that decodes as
// base64 to at least 32 bytes is used as raw key material; any other string
// is taken as a passphrase.
func NewSealer(secret string) (*Sealer, error) {
	return NewSealerWithCipher(secret, preferredCipher())
}

// NewSealerWithCipher is NewSealer with a fixed cipher for new values.
func NewSealerWithCipher(secret string, t CipherType) (*Sealer, error) {
	material := []byte(secret)
	if raw, err := base64.StdEncoding.DecodeString(secret); err == nil && len(raw) >= keySize {
		material = raw
	}
	if len(material) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if t != CipherAESGCM && t != CipherChaCha20 {
		return nil, ErrUnknownCipher
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, material, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("sealed: derive key: %w", err)
	}
	return &Sealer{key: key, cipher: t}, nil
}

// Cipher returns the cipher used for new values.
func (s *Sealer) Cipher() CipherType {
	return s.cipher
}

// Seal encrypts plaintext bound to additionalData.
func (s *Sealer) Seal(plaintext, additionalData []byte) ([]byte, error) {
	aead, err := newAEAD(s.cipher, s.key)
	if err != nil {
		return nil, err
	}
	body, err := seal(aead, plaintext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("sealed: seal: %w", err)
	}
	return append([]byte{version1, byte(s.cipher)}, body...), nil
}

// Open decrypts a value produced by Seal with the same additionalData.
func (s *Sealer) Open(box, additionalData []byte) ([]byte, error) {
	if len(box) < 2 || box[0] != version1 {
		return nil, ErrCorrupted
	}
	aead, err := newAEAD(CipherType(box[1]), s.key)
	if err != nil {
		return nil, err
	}
	return open(aead, box[2:], additionalData)
}

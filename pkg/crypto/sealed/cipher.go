package sealed

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherType identifies the cipher algorithm.
type CipherType byte

const (
	CipherAESGCM   CipherType = 1
	CipherChaCha20 CipherType = 2
)

// String returns the algorithm name.
func (t CipherType) String() string {
	switch t {
	case CipherAESGCM:
		return "aes-256-gcm"
	case CipherChaCha20:
		return "chacha20-poly1305"
	default:
		return "unknown"
	}
}

// ErrUnknownCipher is returned for an unsupported cipher tag.
var ErrUnknownCipher = errors.New("sealed: unknown cipher type")

// preferredCipher picks AES-GCM on architectures where Go uses hardware AES.
func preferredCipher() CipherType {
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x", "ppc64le":
		return CipherAESGCM
	default:
		return CipherChaCha20
	}
}

func newAEAD(t CipherType, key []byte) (cipher.AEAD, error) {
	switch t {
	case CipherAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case CipherChaCha20:
		if len(key) != chacha20poly1305.KeySize {
			return nil, errors.New("sealed: chacha20-poly1305 key must be 32 bytes")
		}
		return chacha20poly1305.New(key)
	default:
		return nil, ErrUnknownCipher
	}
}

// seal prepends a random nonce to the ciphertext.
func seal(aead cipher.AEAD, plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

func open(aead cipher.AEAD, ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCorrupted
	}
	nonce := ciphertext[:aead.NonceSize()]
	out, err := aead.Open(nil, nonce, ciphertext[aead.NonceSize():], additionalData)
	if err != nil {
		return nil, ErrCorrupted
	}
	return out, nil
}

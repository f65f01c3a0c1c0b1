package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Key and IV sizes.
const (
	KeySize = 32 // AES-256
	IVSize  = aes.BlockSize
)

// Errors.
var (
	ErrNilPublicKey     = errors.New("envelope: public key is nil")
	ErrContextDestroyed = errors.New("envelope: encryption context destroyed")
	ErrBadPadding       = errors.New("envelope: invalid PKCS#7 padding")
	ErrBadCiphertext    = errors.New("envelope: ciphertext is not a multiple of the block size")
)

// EncryptionContext holds the symmetric material of one session.
// It must not be shared between sessions; call Destroy when done.
type EncryptionContext struct {
	key []byte
	iv  []byte

	// WrappedKey is the RSA-OAEP wrapped key, base64 encoded for transport.
	WrappedKey string
}

// GenerateEncryptionContext creates a fresh key and IV and wraps the key under pub.
func GenerateEncryptionContext(pub *rsa.PublicKey) (*EncryptionContext, error) {
	return generate(rand.Reader, pub)
}

func generate(random io.Reader, pub *rsa.PublicKey) (*EncryptionContext, error) {
	if pub == nil {
		return nil, ErrNilPublicKey
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(random, key); err != nil {
		return nil, fmt.Errorf("envelope: generate key: %w", err)
	}
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(random, iv); err != nil {
		return nil, fmt.Errorf("envelope: generate iv: %w", err)
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		zero(key)
		return nil, fmt.Errorf("envelope: wrap key: %w", err)
	}

	return &EncryptionContext{
		key:        key,
		iv:         iv,
		WrappedKey: base64.StdEncoding.EncodeToString(wrapped),
	}, nil
}

// NewEncryptionContext builds a context from existing material. The wrapped
// key is left empty; it is meant for decrypting content received under a
// known key.
func NewEncryptionContext(key, iv []byte) (*EncryptionContext, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("envelope: key must be %d bytes", KeySize)
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("envelope: iv must be %d bytes", IVSize)
	}
	return &EncryptionContext{
		key: bytes.Clone(key),
		iv:  bytes.Clone(iv),
	}, nil
}

// IV returns the base64 encoded initialization vector.
func (c *EncryptionContext) IV() string {
	return base64.StdEncoding.EncodeToString(c.iv)
}

// Destroyed reports whether Destroy was called.
func (c *EncryptionContext) Destroyed() bool {
	return c == nil || c.key == nil
}

// Destroy zeroes the key and IV.
func (c *EncryptionContext) Destroy() {
	if c == nil {
		return
	}
	zero(c.key)
	zero(c.iv)
	c.key = nil
	c.iv = nil
	c.WrappedKey = ""
}

// Digest is the SHA-256 hash and byte size of a payload.
type Digest struct {
	SHA256 string `json:"hashSHA"`
	Size   int    `json:"fileSize"`
}

// ComputeDigest hashes data.
func ComputeDigest(data []byte) Digest {
	h := sha256.Sum256(data)
	return Digest{
		SHA256: base64.StdEncoding.EncodeToString(h[:]),
		Size:   len(data),
	}
}

// Encrypted is an encrypted payload with its verification digests.
type Encrypted struct {
	Ciphertext   []byte
	PlainDigest  Digest
	CipherDigest Digest
}

// EncryptPayload encrypts plain with AES-256-CBC under ctx.
func EncryptPayload(plain []byte, ctx *EncryptionContext) (*Encrypted, error) {
	if ctx.Destroyed() {
		return nil, ErrContextDestroyed
	}

	block, err := aes.NewCipher(ctx.key)
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}

	padded := pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, ctx.iv).CryptBlocks(out, padded)

	return &Encrypted{
		Ciphertext:   out,
		PlainDigest:  ComputeDigest(plain),
		CipherDigest: ComputeDigest(out),
	}, nil
}

// DecryptPayload reverses EncryptPayload.
func DecryptPayload(ciphertext []byte, ctx *EncryptionContext) ([]byte, error) {
	if ctx.Destroyed() {
		return nil, ErrContextDestroyed
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrBadCiphertext
	}

	block, err := aes.NewCipher(ctx.key)
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, ctx.iv).CryptBlocks(out, ciphertext)
	return unpad(out, aes.BlockSize)
}

// EncryptToken encrypts a short secret with RSA-OAEP SHA-256 and returns it base64 encoded.
func EncryptToken(plain []byte, pub *rsa.PublicKey) (string, error) {
	if pub == nil {
		return "", ErrNilPublicKey
	}
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plain, nil)
	if err != nil {
		return "", fmt.Errorf("envelope: encrypt token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrBadPadding
		}
	}
	return data[:len(data)-n], nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

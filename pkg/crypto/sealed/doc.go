// Package sealed encrypts small secrets at rest.
//
// A Sealer derives a 32-byte data key from the configured master secret with
// HKDF-SHA256 and seals values with an AEAD cipher. AES-256-GCM is preferred
// where the CPU accelerates AES; ChaCha20-Poly1305 is used otherwise. Sealed
// values carry a one-byte version and cipher tag so either algorithm can open
// values written by the other build.
//
// Usage:
//
//	s, err := sealed.NewSealer(cfg.Security.EncryptionKey)
//	box, err := s.Seal([]byte(token), []byte(tenantID))
//	token, err := s.Open(box, []byte(tenantID))
package sealed

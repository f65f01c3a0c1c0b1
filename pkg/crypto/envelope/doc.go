// Package envelope implements the Exchange's hybrid encryption scheme.
//
// A session uses one random AES-256 key and IV. The key travels to the
// Exchange wrapped with RSA-OAEP (SHA-256) under the Exchange's published
// certificate; payloads are encrypted with AES-256-CBC and PKCS#7 padding
// under the fixed key and IV, so encryption is deterministic for a given
// context. Every transmitted payload is described by SHA-256 digests and
// sizes of both its plaintext and its ciphertext.
//
// Usage:
//
//	ctx, err := envelope.GenerateEncryptionContext(pub)
//	defer ctx.Destroy()
//	enc, err := envelope.EncryptPayload(xml, ctx)
package envelope

// Package apikey generates and verifies inbound API keys.
//
// Key format: "kbak_" followed by 43 characters of Base64 RawURL encoded
// random bytes. Only an argon2id hash of the key is kept in configuration:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
//
// Verification re-derives the hash with the encoded parameters and compares
// in constant time.
package apikey

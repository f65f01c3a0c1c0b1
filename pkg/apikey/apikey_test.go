package apikey

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	key, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.HasPrefix(key, Prefix) {
		t.Errorf("Generate() = %q, want prefix %q", key, Prefix)
	}

	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(key, Prefix))
	if err != nil {
		t.Errorf("Generate() returned invalid base64: %v", err)
	}
	if len(decoded) != DefaultLength {
		t.Errorf("Generate() decoded length = %d, want %d", len(decoded), DefaultLength)
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	keys := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := Generate()
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if keys[key] {
			t.Errorf("Generate() produced duplicate key: %s", key)
		}
		keys[key] = true
	}
}

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("kbak_secret")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$") {
		t.Errorf("Hash() = %q, want argon2id encoding", hash)
	}

	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"matching key", "kbak_secret", true},
		{"wrong key", "kbak_other", false},
		{"empty key", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Verify(tt.key, hash)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHash_Salted(t *testing.T) {
	a, _ := Hash("same")
	b, _ := Hash("same")
	if a == b {
		t.Error("Hash() should use a random salt")
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plain-sha256",
		"$argon2i$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		"$argon2id$v=1$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=x$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=3,p=2$!!$aGFzaA",
	} {
		if _, err := Verify("key", encoded); err != ErrInvalidHash {
			t.Errorf("Verify(%q) error = %v, want ErrInvalidHash", encoded, err)
		}
	}
}

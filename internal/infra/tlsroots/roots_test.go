package tlsroots

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeKeyPair writes a self-signed certificate and its key and returns
// the certificate PEM.
func writeKeyPair(t *testing.T, certFile, keyFile string, ttl time.Duration) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	serial, _ := rand.Int(rand.Reader, big.NewInt(1<<30))
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "ksefbridge.local"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(ttl),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if certFile != "" {
		if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if keyFile != "" {
		keyDER, err := x509.MarshalECPrivateKey(key)
		if err != nil {
			t.Fatal(err)
		}
		keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
		if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return certPEM
}

func TestNewPool(t *testing.T) {
	if NewPool().CertPool() == nil {
		t.Fatal("NewPool() pool is nil")
	}
	p := NewEmptyPool()
	if p.CertPool() == nil || p.Added() != 0 {
		t.Fatal("NewEmptyPool() not empty")
	}
}

func TestAddPEM(t *testing.T) {
	p := NewEmptyPool()
	a := writeKeyPair(t, "", "", time.Hour)
	b := writeKeyPair(t, "", "", time.Hour)
	keyBlock := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: []byte{1}})

	data := append(append(append([]byte{}, a...), keyBlock...), b...)
	if err := p.AddPEM(data); err != nil {
		t.Fatalf("AddPEM() error = %v", err)
	}
	if p.Added() != 2 {
		t.Errorf("Added() = %d, want 2", p.Added())
	}
}

func TestAddPEM_Errors(t *testing.T) {
	p := NewEmptyPool()
	if err := p.AddPEM([]byte("not pem")); !errors.Is(err, ErrNoCertsFound) {
		t.Errorf("AddPEM(garbage) = %v, want ErrNoCertsFound", err)
	}
	bad := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{0x30, 0x01}})
	if err := p.AddPEM(bad); err == nil || errors.Is(err, ErrNoCertsFound) {
		t.Errorf("AddPEM(broken cert) = %v, want parse error", err)
	}
}

func TestAdd_Directory(t *testing.T) {
	dir := t.TempDir()
	writeKeyPair(t, filepath.Join(dir, "a.pem"), "", time.Hour)
	writeKeyPair(t, filepath.Join(dir, "b.CRT"), "", time.Hour)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewEmptyPool()
	if err := p.Add(dir); err != nil {
		t.Fatalf("Add(dir) error = %v", err)
	}
	if p.Added() != 2 {
		t.Errorf("Added() = %d, want 2", p.Added())
	}
}

func TestAdd_EmptyDirectory(t *testing.T) {
	p := NewEmptyPool()
	if err := p.Add(t.TempDir()); !errors.Is(err, ErrNoCertsFound) {
		t.Errorf("Add(empty dir) = %v, want ErrNoCertsFound", err)
	}
}

func TestAdd_Missing(t *testing.T) {
	if err := NewEmptyPool().Add("/nonexistent/ca.pem"); err == nil {
		t.Error("Add() expected error")
	}
}

func TestLoadRoots(t *testing.T) {
	pool, err := LoadRoots("")
	if err != nil || pool != nil {
		t.Errorf("LoadRoots(\"\") = %v, %v; want nil, nil", pool, err)
	}

	path := filepath.Join(t.TempDir(), "ca.pem")
	writeKeyPair(t, path, "", time.Hour)
	pool, err = LoadRoots(path)
	if err != nil {
		t.Fatalf("LoadRoots() error = %v", err)
	}
	if pool == nil {
		t.Fatal("LoadRoots() pool is nil")
	}
}

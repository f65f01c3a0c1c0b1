package envelope

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// ErrCertificateParse is returned for malformed certificate input.
var ErrCertificateParse = errors.New("envelope: cannot parse certificate")

// ParseCertificate accepts a PEM block or base64 DER (the form the Exchange
// publishes) or raw DER and returns the certificate.
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	der, err := certificateDER(data)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateParse, err)
	}
	return cert, nil
}

// ExtractPublicKey returns the DER encoded SubjectPublicKeyInfo of a certificate.
func ExtractPublicKey(certificate []byte) ([]byte, error) {
	cert, err := ParseCertificate(certificate)
	if err != nil {
		return nil, err
	}
	if len(cert.RawSubjectPublicKeyInfo) == 0 {
		return nil, fmt.Errorf("%w: empty subject public key info", ErrCertificateParse)
	}
	return bytes.Clone(cert.RawSubjectPublicKeyInfo), nil
}

// ParsePublicKey parses a DER SubjectPublicKeyInfo holding an RSA key.
func ParsePublicKey(spki []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(spki)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateParse, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is %T, want RSA", ErrCertificateParse, key)
	}
	return pub, nil
}

// CertificatePublicKey is ExtractPublicKey followed by ParsePublicKey.
func CertificatePublicKey(certificate []byte) (*rsa.PublicKey, error) {
	spki, err := ExtractPublicKey(certificate)
	if err != nil {
		return nil, err
	}
	return ParsePublicKey(spki)
}

func certificateDER(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrCertificateParse)
	}

	if block, _ := pem.Decode(trimmed); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrCertificateParse, block.Type)
		}
		return block.Bytes, nil
	}

	// DER always starts with a SEQUENCE tag.
	if trimmed[0] == 0x30 {
		return trimmed, nil
	}

	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(string(trimmed)), ""))
	if err != nil {
		return nil, fmt.Errorf("%w: not PEM, DER or base64", ErrCertificateParse)
	}
	return der, nil
}

package tlsroots

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNoCertsFound is returned when PEM data holds no certificate.
	ErrNoCertsFound = errors.New("tlsroots: no certificates found")
)

// Pool is a set of trusted roots.
type Pool struct {
	certPool *x509.CertPool
	count    int
}

// NewPool starts from the system roots, or an empty pool when they are
// unavailable.
func NewPool() *Pool {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	return &Pool{certPool: pool}
}

// NewEmptyPool creates a pool without system roots.
func NewEmptyPool() *Pool {
	return &Pool{certPool: x509.NewCertPool()}
}

// LoadRoots returns system roots extended with the CA file or directory
// at path. An empty path yields nil so callers keep the transport
// default.
func LoadRoots(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}
	p := NewPool()
	if err := p.Add(path); err != nil {
		return nil, err
	}
	return p.CertPool(), nil
}

// Add loads a PEM file, or every .pem/.crt/.cer file in a directory.
func (p *Pool) Add(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("tlsroots: %w", err)
	}
	if !info.IsDir() {
		return p.AddFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read dir %s: %w", path, err)
	}
	var errs []error
	added := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".pem", ".crt", ".cer":
		default:
			continue
		}
		if err := p.AddFile(filepath.Join(path, entry.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		added++
	}
	if added == 0 {
		errs = append(errs, fmt.Errorf("%w in %s", ErrNoCertsFound, path))
	}
	return errors.Join(errs...)
}

// AddFile loads every certificate in a PEM file.
func (p *Pool) AddFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read %s: %w", path, err)
	}
	if err := p.AddPEM(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// AddPEM adds CERTIFICATE blocks and skips other block types.
func (p *Pool) AddPEM(data []byte) error {
	added := 0
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		p.certPool.AddCert(cert)
		added++
	}
	if added == 0 {
		return ErrNoCertsFound
	}
	p.count += added
	return nil
}

// Added returns how many certificates were added on top of the base pool.
func (p *Pool) Added() int {
	return p.count
}

// CertPool returns the underlying pool.
func (p *Pool) CertPool() *x509.CertPool {
	return p.certPool
}

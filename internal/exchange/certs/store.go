// Package certs caches the Exchange public key certificates and selects the
// key for a given encryption usage.
package certs

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/exchange"
	"github.com/yndnr/ksefbridge-go/pkg/crypto/envelope"
)

// Usage selects a certificate by its published usage tag.
type Usage string

const (
	UsageToken   Usage = exchange.UsageTokenEncryption
	UsageSession Usage = exchange.UsageSymmetricEncryption
)

// DefaultTTL is how long a fetched certificate list is reused.
const DefaultTTL = time.Hour

// Fetcher lists certificates. *exchange.Client implements it.
type Fetcher interface {
	Certificates(ctx context.Context) ([]exchange.PublicKeyCertificate, error)
}

type entry struct {
	certs     []exchange.PublicKeyCertificate
	fetchedAt time.Time
}

// Store caches certificates per environment.
type Store struct {
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[domain.Environment]*entry
	keys    map[string]*rsa.PublicKey // parsed keys by certificate body
}

// NewStore creates a store. ttl <= 0 uses DefaultTTL.
func NewStore(ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		entries: make(map[domain.Environment]*entry),
		keys:    make(map[string]*rsa.PublicKey),
	}
}

// PublicKey returns the public key of a currently valid certificate tagged
// with usage. Missing usage yields domain.ErrKeyWrap.
func (s *Store) PublicKey(ctx context.Context, env domain.Environment, f Fetcher, usage Usage) (*rsa.PublicKey, error) {
	list, err := s.certificates(ctx, env, f)
	if err != nil {
		return nil, err
	}

	now := s.now()
	cert, ok := selectCertificate(list, usage, now)
	if !ok {
		return nil, domain.ErrKeyWrap.WithDetails(fmt.Sprintf("no valid certificate for usage %s", usage))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.keys[cert.Certificate]; ok {
		return key, nil
	}
	key, err := envelope.CertificatePublicKey([]byte(cert.Certificate))
	if err != nil {
		if errors.Is(err, envelope.ErrCertificateParse) {
			return nil, domain.ErrCertificateParse.WithCause(err)
		}
		return nil, domain.ErrKeyWrap.WithCause(err)
	}
	s.keys[cert.Certificate] = key
	return key, nil
}

// Invalidate drops the cached list of env, forcing a refetch.
func (s *Store) Invalidate(env domain.Environment) {
	s.mu.Lock()
	delete(s.entries, env)
	s.mu.Unlock()
}

func (s *Store) certificates(ctx context.Context, env domain.Environment, f Fetcher) ([]exchange.PublicKeyCertificate, error) {
	s.mu.Lock()
	e, ok := s.entries[env]
	if ok && s.now().Sub(e.fetchedAt) < s.ttl {
		s.mu.Unlock()
		return e.certs, nil
	}
	s.mu.Unlock()

	list, err := f.Certificates(ctx)
	if err != nil {
		if ok {
			// Serve the stale list rather than failing every call while the
			// certificate endpoint is down.
			s.logger.Warn("certificate refresh failed, using cached list", "environment", env, "error", err)
			return e.certs, nil
		}
		return nil, err
	}

	s.mu.Lock()
	s.entries[env] = &entry{certs: list, fetchedAt: s.now()}
	s.mu.Unlock()
	s.logger.Debug("certificates fetched", "environment", env, "count", len(list))
	return list, nil
}

// selectCertificate picks the valid certificate for usage that stays valid
// the longest.
func selectCertificate(list []exchange.PublicKeyCertificate, usage Usage, now time.Time) (exchange.PublicKeyCertificate, bool) {
	var (
		best  exchange.PublicKeyCertificate
		found bool
	)
	for _, c := range list {
		if !slices.Contains(c.Usage, string(usage)) {
			continue
		}
		if !c.ValidFrom.IsZero() && now.Before(c.ValidFrom) {
			continue
		}
		if !c.ValidTo.IsZero() && !now.Before(c.ValidTo) {
			continue
		}
		if !found || c.ValidTo.After(best.ValidTo) {
			best, found = c, true
		}
	}
	return best, found
}

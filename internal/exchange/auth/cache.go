package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/pkg/cmap"
)

// DefaultSkew is kept in reserve before an access token's expiry.
const DefaultSkew = time.Minute

// Authenticator is implemented by *Orchestrator.
type Authenticator interface {
	Authenticate(ctx context.Context, cred domain.Credential) (*domain.AuthTokenPair, error)
	Refresh(ctx context.Context, pair *domain.AuthTokenPair) (*domain.AuthTokenPair, error)
}

// TokenCache keeps the latest token pair per credential so a tenant
// authenticates once per token lifetime. It is safe for concurrent use;
// callers still serialize flows per tenant.
type TokenCache struct {
	pairs  *cmap.Map[*domain.AuthTokenPair]
	skew   time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewTokenCache creates a cache. skew <= 0 uses DefaultSkew.
func NewTokenCache(skew time.Duration, logger *slog.Logger) *TokenCache {
	if skew <= 0 {
		skew = DefaultSkew
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenCache{
		pairs:  cmap.New[*domain.AuthTokenPair](),
		skew:   skew,
		logger: logger,
		now:    time.Now,
	}
}

// cacheKey never contains the token itself.
func cacheKey(cred domain.Credential) string {
	sum := sha256.Sum256([]byte(cred.Token))
	return string(cred.Environment) + "/" + domain.NormalizeTaxID(cred.IssuerTaxID) + "/" + hex.EncodeToString(sum[:8])
}

// Acquire returns a usable token pair for cred: the cached one while its
// access token is valid, a refreshed one while the refresh token is valid,
// otherwise a fresh authentication.
func (c *TokenCache) Acquire(ctx context.Context, a Authenticator, cred domain.Credential) (*domain.AuthTokenPair, error) {
	key := cacheKey(cred)
	now := c.now()

	if pair, ok := c.pairs.Get(key); ok {
		if pair.AccessValid(now, c.skew) {
			return pair, nil
		}
		if pair.RefreshValid(now) {
			next, err := a.Refresh(ctx, pair)
			if err == nil {
				c.pairs.Set(key, next)
				return next, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("token refresh failed, re-authenticating", "tax_id", cred.IssuerTaxID, "error", err)
		}
		c.pairs.Delete(key)
	}

	pair, err := a.Authenticate(ctx, cred)
	if err != nil {
		return nil, err
	}
	c.pairs.Set(key, pair)
	return pair, nil
}

// Invalidate drops the cached pair of cred, e.g. after the Exchange
// rejected its access token.
func (c *TokenCache) Invalidate(cred domain.Credential) {
	c.pairs.Delete(cacheKey(cred))
}

// Len returns the number of cached pairs.
func (c *TokenCache) Len() int {
	return c.pairs.Count()
}

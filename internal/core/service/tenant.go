package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/pkg/crypto/sealed"
)

// TenantStore persists tenants.
type TenantStore interface {
	Create(ctx context.Context, t *domain.Tenant) error
	Get(ctx context.Context, id string) (*domain.Tenant, error)
	Update(ctx context.Context, id string, fn func(t *domain.Tenant) error) (*domain.Tenant, error)
	List(ctx context.Context) ([]*domain.Tenant, error)
}

// RegisterTenantRequest registers an account with an Exchange integration.
type RegisterTenantRequest struct {
	Name        string             `json:"name"`
	IssuerTaxID string             `json:"issuer_tax_id"`
	Environment domain.Environment `json:"environment"`
	Token       string             `json:"token"`
}

// TenantService manages tenants and their sealed Exchange tokens.
type TenantService struct {
	tenants TenantStore
	cursors CursorStore
	sealer  *sealed.Sealer
	defEnv  domain.Environment
	logger  *slog.Logger
}

// NewTenantService creates a tenant service. Without a sealer tenants can
// be listed but not registered or synced.
func NewTenantService(tenants TenantStore, cursors CursorStore, sealer *sealed.Sealer, defEnv domain.Environment, logger *slog.Logger) *TenantService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantService{
		tenants: tenants,
		cursors: cursors,
		sealer:  sealer,
		defEnv:  defEnv,
		logger:  logger,
	}
}

// Register creates an active tenant and seals its token.
func (s *TenantService) Register(ctx context.Context, req *RegisterTenantRequest) (*domain.Tenant, error) {
	if s.sealer == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("security.encryption_key is not configured")
	}
	if strings.TrimSpace(req.Token) == "" {
		return nil, domain.ErrMissingArgument.WithDetails("token is required")
	}
	env := req.Environment
	if env == "" {
		env = s.defEnv
	}

	t, err := domain.NewTenant(strings.TrimSpace(req.Name), req.IssuerTaxID, env)
	if err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.SealedToken, err = s.seal(t.ID, req.Token); err != nil {
		return nil, err
	}
	if err := s.tenants.Create(ctx, t); err != nil {
		return nil, err
	}

	s.logger.Info("tenant registered", "tenant_id", t.ID, "tax_id", t.IssuerTaxID, "env", t.Environment)
	return t, nil
}

// Get returns a tenant.
func (s *TenantService) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	return s.tenants.Get(ctx, id)
}

// List returns tenants, optionally only the active ones.
func (s *TenantService) List(ctx context.Context, activeOnly bool) ([]*domain.Tenant, error) {
	all, err := s.tenants.List(ctx)
	if err != nil || !activeOnly {
		return all, err
	}
	active := all[:0]
	for _, t := range all {
		if t.Active {
			active = append(active, t)
		}
	}
	return active, nil
}

// SetActive enables or disables scheduled sync of a tenant.
func (s *TenantService) SetActive(ctx context.Context, id string, active bool) (*domain.Tenant, error) {
	t, err := s.tenants.Update(ctx, id, func(t *domain.Tenant) error {
		t.Active = active
		t.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("tenant status changed", "tenant_id", id, "active", active)
	return t, nil
}

// RotateToken replaces the sealed Exchange token of a tenant.
func (s *TenantService) RotateToken(ctx context.Context, id, token string) (*domain.Tenant, error) {
	if s.sealer == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("security.encryption_key is not configured")
	}
	if strings.TrimSpace(token) == "" {
		return nil, domain.ErrMissingArgument.WithDetails("token is required")
	}
	box, err := s.seal(id, token)
	if err != nil {
		return nil, err
	}
	return s.tenants.Update(ctx, id, func(t *domain.Tenant) error {
		t.SealedToken = box
		t.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// ResetCursor rewinds the cursor of subject to to. A zero to restarts the
// subject from the initial lookback.
func (s *TenantService) ResetCursor(ctx context.Context, id string, subject domain.SubjectType, to time.Time) error {
	if !subject.Valid() {
		return domain.ErrInvalidArgument.WithDetails("unknown subject type " + string(subject))
	}
	if _, err := s.tenants.Get(ctx, id); err != nil {
		return err
	}
	if err := s.cursors.Reset(ctx, id, subject, to); err != nil {
		return err
	}
	s.logger.Info("sync cursor reset", "tenant_id", id, "subject", subject, "to", to)
	return nil
}

// Cursors returns the sync cursors of a tenant.
func (s *TenantService) Cursors(ctx context.Context, id string) ([]*domain.SyncCursor, error) {
	return s.cursors.List(ctx, id)
}

// Credential unseals the Exchange token of t.
func (s *TenantService) Credential(_ context.Context, t *domain.Tenant) (domain.Credential, error) {
	if s.sealer == nil {
		return domain.Credential{}, domain.ErrInvalidArgument.WithDetails("security.encryption_key is not configured")
	}
	token, err := s.sealer.Open(t.SealedToken, []byte(t.ID))
	if err != nil {
		return domain.Credential{}, domain.ErrDecryption.WithDetails("tenant " + t.ID).WithCause(err)
	}
	return domain.Credential{
		IssuerTaxID: t.IssuerTaxID,
		Token:       string(token),
		Environment: t.Environment,
	}, nil
}

// The tenant ID is bound as additional data so a sealed token cannot be
// moved to another tenant.
func (s *TenantService) seal(tenantID, token string) ([]byte, error) {
	box, err := s.sealer.Seal([]byte(token), []byte(tenantID))
	if err != nil {
		return nil, domain.ErrInternal.WithCause(err)
	}
	return box, nil
}

package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

// TenantRepository stores tenants.
type TenantRepository struct {
	kv KVEngine
}

// NewTenantRepository creates a repository over kv.
func NewTenantRepository(kv KVEngine) *TenantRepository {
	return &TenantRepository{kv: kv}
}

// Create stores a new tenant; an existing ID yields domain.ErrTenantConflict.
func (r *TenantRepository) Create(ctx context.Context, t *domain.Tenant) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	err = r.kv.Insert(ctx, buildKey(prefixTenant, t.ID), raw)
	if errors.Is(err, ErrKeyExists) {
		return domain.ErrTenantConflict.WithDetails(t.ID)
	}
	return storageErr(err)
}

// Get returns a tenant or domain.ErrTenantNotFound.
func (r *TenantRepository) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	t, err := getJSON[domain.Tenant](ctx, r.kv, buildKey(prefixTenant, id))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrTenantNotFound.WithDetails(id)
	}
	return t, err
}

// Update applies fn to the stored tenant atomically.
func (r *TenantRepository) Update(ctx context.Context, id string, fn func(t *domain.Tenant) error) (*domain.Tenant, error) {
	var updated *domain.Tenant
	err := updateJSON(ctx, r.kv, buildKey(prefixTenant, id), func(cur *domain.Tenant) (*domain.Tenant, error) {
		if cur == nil {
			return nil, domain.ErrTenantNotFound.WithDetails(id)
		}
		if err := fn(cur); err != nil {
			return nil, err
		}
		updated = cur
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List returns all tenants in ID order.
func (r *TenantRepository) List(ctx context.Context) ([]*domain.Tenant, error) {
	var out []*domain.Tenant
	err := scanJSON(ctx, r.kv, []byte(prefixTenant), func(t *domain.Tenant) bool {
		out = append(out, t)
		return true
	})
	return out, err
}

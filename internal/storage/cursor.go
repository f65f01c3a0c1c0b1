package storage

import (
	"context"
	"time"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

// CursorRepository stores sync high-water marks.
type CursorRepository struct {
	kv KVEngine
}

// NewCursorRepository creates a repository over kv.
func NewCursorRepository(kv KVEngine) *CursorRepository {
	return &CursorRepository{kv: kv}
}

func cursorKey(tenantID string, subject domain.SubjectType) []byte {
	return buildKey(prefixCursor, tenantID, string(subject))
}

// Get returns the cursor or domain.ErrNotFound.
func (r *CursorRepository) Get(ctx context.Context, tenantID string, subject domain.SubjectType) (*domain.SyncCursor, error) {
	return getJSON[domain.SyncCursor](ctx, r.kv, cursorKey(tenantID, subject))
}

// Advance stores c unless the stored mark is already at or past it.
// It reports whether the stored cursor moved.
func (r *CursorRepository) Advance(ctx context.Context, c *domain.SyncCursor) (bool, error) {
	moved := false
	err := updateJSON(ctx, r.kv, cursorKey(c.TenantID, c.SubjectType), func(cur *domain.SyncCursor) (*domain.SyncCursor, error) {
		if cur == nil {
			moved = true
			next := *c
			next.UpdatedAt = time.Now().UTC()
			return &next, nil
		}
		moved = cur.Advance(c.HighWaterMark)
		return cur, nil
	})
	return moved, err
}

// Reset overwrites the cursor with to, rewinding if needed. A zero to
// deletes the cursor so the next sync starts from the initial lookback.
func (r *CursorRepository) Reset(ctx context.Context, tenantID string, subject domain.SubjectType, to time.Time) error {
	key := cursorKey(tenantID, subject)
	if to.IsZero() {
		return storageErr(r.kv.Delete(ctx, key))
	}
	return putJSON(ctx, r.kv, key, &domain.SyncCursor{
		TenantID:      tenantID,
		SubjectType:   subject,
		HighWaterMark: to.UTC(),
		UpdatedAt:     time.Now().UTC(),
	})
}

// List returns all cursors of a tenant.
func (r *CursorRepository) List(ctx context.Context, tenantID string) ([]*domain.SyncCursor, error) {
	var out []*domain.SyncCursor
	err := scanJSON(ctx, r.kv, buildKey(prefixCursor, tenantID, ""), func(c *domain.SyncCursor) bool {
		out = append(out, c)
		return true
	})
	return out, err
}

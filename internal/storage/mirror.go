package storage

import (
	"context"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

// MirrorRepository stores local copies of remote documents.
type MirrorRepository struct {
	kv KVEngine
}

// NewMirrorRepository creates a repository over kv.
func NewMirrorRepository(kv KVEngine) *MirrorRepository {
	return &MirrorRepository{kv: kv}
}

func documentKey(tenantID string, subject domain.SubjectType, number string) []byte {
	return buildKey(prefixDocument, tenantID, string(subject), number)
}

// Put stores doc and reports whether it was new. Storing a document whose
// fingerprint matches the stored copy is a no-op.
func (r *MirrorRepository) Put(ctx context.Context, doc *domain.MirroredDocument) (bool, error) {
	created := false
	err := updateJSON(ctx, r.kv, documentKey(doc.TenantID, doc.SubjectType, doc.ExchangeNumber),
		func(cur *domain.MirroredDocument) (*domain.MirroredDocument, error) {
			if cur == nil {
				created = true
				return doc, nil
			}
			if cur.Fingerprint == doc.Fingerprint {
				return cur, nil
			}
			return doc, nil
		})
	return created, err
}

// Get returns a mirrored document or domain.ErrNotFound.
func (r *MirrorRepository) Get(ctx context.Context, tenantID string, subject domain.SubjectType, number string) (*domain.MirroredDocument, error) {
	return getJSON[domain.MirroredDocument](ctx, r.kv, documentKey(tenantID, subject, number))
}

// List returns the documents of one tenant subject without their content.
func (r *MirrorRepository) List(ctx context.Context, tenantID string, subject domain.SubjectType) ([]*domain.MirroredDocument, error) {
	var out []*domain.MirroredDocument
	err := scanJSON(ctx, r.kv, buildKey(prefixDocument, tenantID, string(subject), ""), func(d *domain.MirroredDocument) bool {
		d.Content = nil
		out = append(out, d)
		return true
	})
	return out, err
}

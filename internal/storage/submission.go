package storage

import (
	"context"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

// SubmissionRepository stores the submission ledger.
type SubmissionRepository struct {
	kv KVEngine
}

// NewSubmissionRepository creates a repository over kv.
func NewSubmissionRepository(kv KVEngine) *SubmissionRepository {
	return &SubmissionRepository{kv: kv}
}

func submissionKey(k domain.SubmissionKey) []byte {
	return buildKey(prefixSubmission, k.IssuerTaxID, string(k.DocumentKind), k.DocumentNumber)
}

// Get returns the record for key or domain.ErrNotFound.
func (r *SubmissionRepository) Get(ctx context.Context, key domain.SubmissionKey) (*domain.SubmissionRecord, error) {
	return getJSON[domain.SubmissionRecord](ctx, r.kv, submissionKey(key))
}

// Update atomically replaces the record for key with the result of fn.
// fn receives nil when no record exists and returns nil to delete.
func (r *SubmissionRepository) Update(ctx context.Context, key domain.SubmissionKey, fn func(cur *domain.SubmissionRecord) (*domain.SubmissionRecord, error)) error {
	return updateJSON(ctx, r.kv, submissionKey(key), fn)
}

// ListByIssuer returns all records of one issuer in key order.
func (r *SubmissionRepository) ListByIssuer(ctx context.Context, issuerTaxID string) ([]*domain.SubmissionRecord, error) {
	var out []*domain.SubmissionRecord
	err := scanJSON(ctx, r.kv, buildKey(prefixSubmission, issuerTaxID, ""), func(rec *domain.SubmissionRecord) bool {
		out = append(out, rec)
		return true
	})
	return out, err
}

package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

// SubmissionStore is the storage interface of the submission ledger. Update
// must run fn atomically with respect to concurrent writers of the same key;
// that is the uniqueness guarantee everything here relies on.
type SubmissionStore interface {
	Get(ctx context.Context, key domain.SubmissionKey) (*domain.SubmissionRecord, error)
	Update(ctx context.Context, key domain.SubmissionKey, fn func(cur *domain.SubmissionRecord) (*domain.SubmissionRecord, error)) error
}

// DuplicateCheck is the result of a ledger lookup.
type DuplicateCheck struct {
	IsDuplicate       bool   `json:"is_duplicate"`
	ExistingReference string `json:"existing_reference,omitempty"`
	// Pending is set while another submitter holds a live claim on the key
	// or while the outcome of a transmitted document is unknown.
	Pending bool `json:"pending,omitempty"`
	// Sent is set when the document reached the Exchange but its session
	// status was not confirmed; ExistingReference holds its reference.
	Sent        bool      `json:"sent,omitempty"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`

	record *domain.SubmissionRecord
}

// DuplicateDetector guards the (issuer, kind, number) uniqueness of
// submissions.
type DuplicateDetector struct {
	store  SubmissionStore
	logger *slog.Logger
	now    func() time.Time
}

// NewDuplicateDetector creates a detector over store.
func NewDuplicateDetector(store SubmissionStore, logger *slog.Logger) *DuplicateDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &DuplicateDetector{store: store, logger: logger, now: time.Now}
}

// CheckDuplicate looks key up in the ledger. It is an early exit before any
// cryptographic work, not a guarantee; Claim and MarkSubmitted are.
func (d *DuplicateDetector) CheckDuplicate(ctx context.Context, key domain.SubmissionKey) (*DuplicateCheck, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	rec, err := d.store.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return &DuplicateCheck{}, nil
	}
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case domain.SubmissionSubmitted:
		return &DuplicateCheck{
			IsDuplicate:       true,
			ExistingReference: rec.ExchangeReferenceNumber,
			SubmittedAt:       rec.SubmittedAt,
		}, nil
	case domain.SubmissionSent:
		return &DuplicateCheck{
			Pending:           true,
			Sent:              true,
			ExistingReference: rec.ExchangeReferenceNumber,
			record:            rec,
		}, nil
	case domain.SubmissionPending:
		return &DuplicateCheck{Pending: !rec.ClaimExpired(d.now())}, nil
	}
	return &DuplicateCheck{}, nil
}

// Claim reserves key for one submitter before transmission and returns the
// claim ID. A submitted record yields *domain.DuplicateFailure; a live claim
// of another submitter yields domain.ErrSubmissionConflict. Claims older than
// domain.ClaimTTL are taken over.
func (d *DuplicateDetector) Claim(ctx context.Context, key domain.SubmissionKey) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	claimID, err := domain.NewID(domain.ClaimIDPrefix)
	if err != nil {
		return "", err
	}

	now := d.now().UTC()
	err = d.store.Update(ctx, key, func(cur *domain.SubmissionRecord) (*domain.SubmissionRecord, error) {
		if cur != nil {
			switch {
			case cur.Status == domain.SubmissionSubmitted:
				return nil, &domain.DuplicateFailure{Key: key, ExistingReference: cur.ExchangeReferenceNumber}
			case cur.Status == domain.SubmissionSent:
				return nil, domain.ErrSubmissionConflict.WithDetails(
					key.String() + " was sent in session " + cur.SessionReference + " and awaits its status")
			case !cur.ClaimExpired(now):
				return nil, domain.ErrSubmissionConflict.WithDetails(key.String() + " is being submitted")
			}
			d.logger.Warn("taking over stale submission claim",
				"submission", key.String(),
				"claim_id", cur.ClaimID,
				"claimed_at", cur.ClaimedAt)
		}
		return &domain.SubmissionRecord{
			Key:       key,
			Status:    domain.SubmissionPending,
			ClaimID:   claimID,
			ClaimedAt: now,
		}, nil
	})
	if err != nil {
		return "", err
	}
	return claimID, nil
}

// Release drops the record held under claimID on key, pending or sent.
// A sent record may only be released once the Exchange reported that it
// rejected the session. Records of other claims and submitted records are
// left untouched.
func (d *DuplicateDetector) Release(ctx context.Context, key domain.SubmissionKey, claimID string) error {
	return d.store.Update(ctx, key, func(cur *domain.SubmissionRecord) (*domain.SubmissionRecord, error) {
		if cur == nil {
			return nil, nil
		}
		if cur.ClaimID == claimID && (cur.Status == domain.SubmissionPending || cur.Status == domain.SubmissionSent) {
			return nil, nil
		}
		return cur, nil
	})
}

// MarkSent records that the document under rec.ClaimID was transmitted in
// rec.SessionReference. From here on the key is never claimed again until
// the session status is known.
func (d *DuplicateDetector) MarkSent(ctx context.Context, rec *domain.SubmissionRecord) error {
	if err := rec.Key.Validate(); err != nil {
		return err
	}

	now := d.now().UTC()
	return d.store.Update(ctx, rec.Key, func(cur *domain.SubmissionRecord) (*domain.SubmissionRecord, error) {
		if cur == nil || cur.Status != domain.SubmissionPending || cur.ClaimID != rec.ClaimID {
			return nil, domain.ErrSubmissionConflict.WithDetails(rec.Key.String() + " is not claimed by " + rec.ClaimID)
		}
		next := *rec
		next.Status = domain.SubmissionSent
		next.ClaimedAt = cur.ClaimedAt
		if next.SentAt.IsZero() {
			next.SentAt = now
		}
		return &next, nil
	})
}

// MarkSubmitted records a successful submission. It fails with
// domain.ErrSubmissionConflict when the key is already submitted under
// another claim or held by a live claim other than rec.ClaimID.
func (d *DuplicateDetector) MarkSubmitted(ctx context.Context, rec *domain.SubmissionRecord) error {
	if err := rec.Key.Validate(); err != nil {
		return err
	}

	now := d.now().UTC()
	return d.store.Update(ctx, rec.Key, func(cur *domain.SubmissionRecord) (*domain.SubmissionRecord, error) {
		if cur != nil {
			switch {
			case cur.Status == domain.SubmissionSubmitted && rec.ClaimID != "" && cur.ClaimID == rec.ClaimID:
				// Confirmed already by a status check of another caller.
				return cur, nil
			case cur.Status == domain.SubmissionSubmitted:
				return nil, domain.ErrSubmissionConflict.WithDetails(
					rec.Key.String() + " already submitted as " + cur.ExchangeReferenceNumber)
			case cur.ClaimID != rec.ClaimID && !cur.ClaimExpired(now):
				return nil, domain.ErrSubmissionConflict.WithDetails(rec.Key.String() + " is claimed by another submitter")
			}
		}

		next := *rec
		next.Status = domain.SubmissionSubmitted
		if next.SubmittedAt.IsZero() {
			next.SubmittedAt = now
		}
		if cur != nil && next.ClaimedAt.IsZero() {
			next.ClaimedAt = cur.ClaimedAt
		}
		if cur != nil && next.SentAt.IsZero() {
			next.SentAt = cur.SentAt
		}
		return &next, nil
	})
}

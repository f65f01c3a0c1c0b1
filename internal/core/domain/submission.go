package domain

import (
	"fmt"
	"strings"
	"time"
)

// SubmissionRetention is how long the unique submission key must not repeat.
const SubmissionRetention = 10 * 365 * 24 * time.Hour

// ClaimTTL bounds how long a pending claim blocks other submitters.
const ClaimTTL = time.Hour

// SubmissionStatus is the lifecycle of a submission record.
type SubmissionStatus string

const (
	// SubmissionPending marks a claimed key whose transmission is in flight.
	SubmissionPending SubmissionStatus = "pending"
	// SubmissionSent marks a document the Exchange took into a session whose
	// outcome is not known yet. It is never released without asking the
	// Exchange for the session status first.
	SubmissionSent SubmissionStatus = "sent"
	// SubmissionSubmitted marks a document accepted by the Exchange.
	SubmissionSubmitted SubmissionStatus = "submitted"
)

// SubmissionKey uniquely identifies a submitted document.
type SubmissionKey struct {
	IssuerTaxID    string       `json:"issuer_tax_id"`
	DocumentKind   DocumentKind `json:"document_kind"`
	DocumentNumber string       `json:"document_number"`
}

// NewSubmissionKey builds a key from a document and its issuer. A document
// without a kind is keyed as VAT, the kind it is rendered with.
func NewSubmissionKey(issuerTaxID string, doc *Document) SubmissionKey {
	return SubmissionKey{
		IssuerTaxID:    NormalizeTaxID(issuerTaxID),
		DocumentKind:   doc.EffectiveKind(),
		DocumentNumber: strings.TrimSpace(doc.Number),
	}
}

// Validate checks that all key parts are present.
func (k SubmissionKey) Validate() error {
	switch {
	case k.IssuerTaxID == "":
		return ErrMissingArgument.WithDetails("issuer_tax_id is required")
	case k.DocumentKind == "":
		return ErrMissingArgument.WithDetails("document_kind is required")
	case k.DocumentNumber == "":
		return ErrMissingArgument.WithDetails("document_number is required")
	}
	return nil
}

// String renders the key for logs and error messages.
func (k SubmissionKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.IssuerTaxID, k.DocumentKind, k.DocumentNumber)
}

// SubmissionRecord is the append-only ledger entry for one document.
type SubmissionRecord struct {
	Key                     SubmissionKey    `json:"key"`
	Status                  SubmissionStatus `json:"status"`
	ClaimID                 string           `json:"claim_id,omitempty"`
	ExchangeReferenceNumber string           `json:"exchange_reference_number,omitempty"`
	SessionReference        string           `json:"session_reference,omitempty"`
	ConfirmationReference   string           `json:"confirmation_reference,omitempty"`
	Environment             Environment      `json:"environment,omitempty"`
	ClaimedAt               time.Time        `json:"claimed_at,omitempty"`
	SentAt                  time.Time        `json:"sent_at,omitempty"`
	SubmittedAt             time.Time        `json:"submitted_at,omitempty"`
}

// ClaimExpired reports whether a pending claim may be overtaken.
func (r *SubmissionRecord) ClaimExpired(now time.Time) bool {
	return r.Status == SubmissionPending && now.Sub(r.ClaimedAt) > ClaimTTL
}

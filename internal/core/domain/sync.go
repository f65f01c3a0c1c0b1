package domain

import "time"

// SubjectType selects which side of a document the tenant is on when
// querying the Exchange.
type SubjectType string

const (
	SubjectIssuer     SubjectType = "Subject1"          // issued by the tenant
	SubjectRecipient  SubjectType = "Subject2"          // received by the tenant
	SubjectThirdParty SubjectType = "Subject3"          // third party on the document
	SubjectAuthorized SubjectType = "SubjectAuthorized" // authorized entity
)

// Valid reports whether s is a known subject type.
func (s SubjectType) Valid() bool {
	switch s {
	case SubjectIssuer, SubjectRecipient, SubjectThirdParty, SubjectAuthorized:
		return true
	}
	return false
}

// SyncCursor is the per tenant and subject high-water mark.
type SyncCursor struct {
	TenantID      string      `json:"tenant_id"`
	SubjectType   SubjectType `json:"subject_type"`
	HighWaterMark time.Time   `json:"high_water_mark"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Advance moves the high-water mark forward to ts. It never rewinds and
// reports whether the cursor changed.
func (c *SyncCursor) Advance(ts time.Time) bool {
	if !ts.After(c.HighWaterMark) {
		return false
	}
	c.HighWaterMark = ts
	c.UpdatedAt = time.Now().UTC()
	return true
}

// SyncError records a failure for one tenant subject.
type SyncError struct {
	SubjectType SubjectType `json:"subject_type,omitempty"`
	Code        string      `json:"code,omitempty"`
	Message     string      `json:"message"`
}

// SyncRunResult is the write-once audit record of one tenant sync.
type SyncRunResult struct {
	RunID            string              `json:"run_id"`
	TenantID         string              `json:"tenant_id"`
	PerSubjectCounts map[SubjectType]int `json:"per_subject_counts"`
	StartedAt        time.Time           `json:"started_at"`
	FinishedAt       time.Time           `json:"finished_at"`
	Errors           []SyncError         `json:"errors,omitempty"`
}

// NewSyncRunResult starts a result for tenantID.
func NewSyncRunResult(runID, tenantID string) *SyncRunResult {
	return &SyncRunResult{
		RunID:            runID,
		TenantID:         tenantID,
		PerSubjectCounts: make(map[SubjectType]int),
		StartedAt:        time.Now().UTC(),
	}
}

// AddError appends a failure for subject.
func (r *SyncRunResult) AddError(subject SubjectType, err error) {
	r.Errors = append(r.Errors, SyncError{
		SubjectType: subject,
		Code:        GetErrorCode(err),
		Message:     err.Error(),
	})
}

// Total sums all subject counts.
func (r *SyncRunResult) Total() int {
	total := 0
	for _, n := range r.PerSubjectCounts {
		total += n
	}
	return total
}

// Failed reports whether any error was recorded.
func (r *SyncRunResult) Failed() bool {
	return len(r.Errors) > 0
}

// MirroredDocument is the local copy of a remote document.
type MirroredDocument struct {
	TenantID       string      `json:"tenant_id"`
	SubjectType    SubjectType `json:"subject_type"`
	ExchangeNumber string      `json:"exchange_number"`
	InvoiceNumber  string      `json:"invoice_number"`
	SellerTaxID    string      `json:"seller_tax_id"`
	BuyerTaxID     string      `json:"buyer_tax_id,omitempty"`
	IssueDate      string      `json:"issue_date"`
	StoredAt       time.Time   `json:"stored_at"`
	NetAmount      float64     `json:"net_amount"`
	GrossAmount    float64     `json:"gross_amount"`
	Currency       string      `json:"currency"`
	FormCode       string      `json:"form_code,omitempty"`
	Content        []byte      `json:"content,omitempty"`
	Fingerprint    string      `json:"fingerprint"`
	MirroredAt     time.Time   `json:"mirrored_at"`
}

package exchange

import (
	"encoding/json"
	"time"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

// Certificate usages published by the Exchange.
const (
	UsageTokenEncryption     = "KsefTokenEncryption"
	UsageSymmetricEncryption = "SymmetricKeyEncryption"
)

// PublicKeyCertificate is one entry of GET /security/public-key-certificates.
type PublicKeyCertificate struct {
	Certificate string    `json:"certificate"` // base64 DER
	ValidFrom   time.Time `json:"validFrom"`
	ValidTo     time.Time `json:"validTo"`
	Usage       []string  `json:"usage"`
}

// ChallengeResponse is returned by POST /auth/challenge. Timestamp is kept
// raw because deployments send either ISO-8601 strings or Unix numbers.
type ChallengeResponse struct {
	Challenge   string          `json:"challenge"`
	Timestamp   json.RawMessage `json:"timestamp"`
	TimestampMs int64           `json:"timestampMs,omitempty"`
}

// ContextIdentifier names the entity being authenticated.
type ContextIdentifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// TokenAuthRequest is the body of POST /auth/ksef-token.
type TokenAuthRequest struct {
	Challenge         string            `json:"challenge"`
	ContextIdentifier ContextIdentifier `json:"contextIdentifier"`
	EncryptedToken    string            `json:"encryptedToken"`
}

// TokenInfo is a token with its expiry.
type TokenInfo struct {
	Token      string    `json:"token"`
	ValidUntil time.Time `json:"validUntil"`
}

// AuthInitResponse is returned when an authentication is accepted for
// processing.
type AuthInitResponse struct {
	ReferenceNumber     string    `json:"referenceNumber"`
	AuthenticationToken TokenInfo `json:"authenticationToken"`
}

// StatusInfo is the status block shared by auth and session responses.
type StatusInfo struct {
	Code        int      `json:"code"`
	Description string   `json:"description"`
	Details     []string `json:"details,omitempty"`
}

// AuthStatusResponse is returned by GET /auth/{ref}.
type AuthStatusResponse struct {
	StartDate            time.Time  `json:"startDate"`
	AuthenticationMethod string     `json:"authenticationMethod"`
	Status               StatusInfo `json:"status"`
}

// Encryption carries the wrapped session key.
type Encryption struct {
	EncryptedSymmetricKey string `json:"encryptedSymmetricKey"`
	InitializationVector  string `json:"initializationVector"`
}

// OpenSessionRequest is the body of POST /sessions/online.
type OpenSessionRequest struct {
	FormCode   domain.FormCode `json:"formCode"`
	Encryption Encryption      `json:"encryption"`
}

// OpenSessionResponse is returned by POST /sessions/online.
type OpenSessionResponse struct {
	ReferenceNumber string    `json:"referenceNumber"`
	ValidUntil      time.Time `json:"validUntil"`
}

// SendInvoiceRequest is the body of POST /sessions/online/{ref}/invoices.
type SendInvoiceRequest struct {
	InvoiceHash             string `json:"invoiceHash"`
	InvoiceSize             int    `json:"invoiceSize"`
	EncryptedInvoiceHash    string `json:"encryptedInvoiceHash"`
	EncryptedInvoiceSize    int    `json:"encryptedInvoiceSize"`
	EncryptedInvoiceContent string `json:"encryptedInvoiceContent"`
	OfflineMode             bool   `json:"offlineMode"`
}

// SendInvoiceResponse is returned for an accepted document.
type SendInvoiceResponse struct {
	ReferenceNumber string `json:"referenceNumber"`
}

// UPOPage is one downloadable page of the confirmation document.
type UPOPage struct {
	ReferenceNumber string `json:"referenceNumber"`
	DownloadURL     string `json:"downloadUrl"`
}

// UPO is the official confirmation of receipt.
type UPO struct {
	Pages []UPOPage `json:"pages"`
}

// SessionStatusResponse is returned by GET /sessions/online/{ref}/status.
type SessionStatusResponse struct {
	Status                 StatusInfo `json:"status"`
	UPO                    *UPO       `json:"upo,omitempty"`
	InvoiceCount           int        `json:"invoiceCount"`
	SuccessfulInvoiceCount int        `json:"successfulInvoiceCount"`
	FailedInvoiceCount     int        `json:"failedInvoiceCount"`
}

// DateRange bounds a metadata query.
type DateRange struct {
	DateType string    `json:"dateType"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

// DateTypePermanentStorage filters by the date the Exchange stored the
// document; it is the only date that never moves backwards.
const DateTypePermanentStorage = "PermanentStorage"

// QueryFilters is the body of POST /invoices/query/metadata.
type QueryFilters struct {
	SubjectType domain.SubjectType `json:"subjectType"`
	DateRange   DateRange          `json:"dateRange"`
}

// Party identifies a document side in metadata.
type Party struct {
	NIP        string             `json:"nip,omitempty"`
	Identifier *ContextIdentifier `json:"identifier,omitempty"`
	Name       string             `json:"name,omitempty"`
}

// TaxID returns the party tax id from whichever field carries it.
func (p Party) TaxID() string {
	if p.NIP != "" {
		return p.NIP
	}
	if p.Identifier != nil {
		return p.Identifier.Value
	}
	return ""
}

// InvoiceMetadata describes one stored document.
type InvoiceMetadata struct {
	KsefNumber           string           `json:"ksefNumber"`
	InvoiceNumber        string           `json:"invoiceNumber"`
	IssueDate            string           `json:"issueDate"`
	InvoicingDate        time.Time        `json:"invoicingDate"`
	AcquisitionDate      time.Time        `json:"acquisitionDate"`
	PermanentStorageDate time.Time        `json:"permanentStorageDate"`
	Seller               Party            `json:"seller"`
	Buyer                Party            `json:"buyer"`
	NetAmount            float64          `json:"netAmount"`
	GrossAmount          float64          `json:"grossAmount"`
	VATAmount            float64          `json:"vatAmount"`
	Currency             string           `json:"currency"`
	FormCode             *domain.FormCode `json:"formCode,omitempty"`
	InvoiceHash          string           `json:"invoiceHash"`
}

// QueryResponse is one page of metadata results.
type QueryResponse struct {
	HasMore     bool              `json:"hasMore"`
	IsTruncated bool              `json:"isTruncated"`
	Invoices    []InvoiceMetadata `json:"invoices"`
}

// ExportRequest is the body of POST /invoices/exports.
type ExportRequest struct {
	Encryption Encryption   `json:"encryption"`
	Filters    QueryFilters `json:"filters"`
}

// ExportResponse is returned when an export is accepted.
type ExportResponse struct {
	ReferenceNumber string `json:"referenceNumber"`
}

// exceptionResponse is the Exchange error body.
type exceptionResponse struct {
	Exception struct {
		ExceptionDetailList []struct {
			ExceptionCode        int      `json:"exceptionCode"`
			ExceptionDescription string   `json:"exceptionDescription"`
			Details              []string `json:"details"`
		} `json:"exceptionDetailList"`
	} `json:"exception"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

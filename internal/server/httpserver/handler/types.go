package handler

import (
	"time"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

// Response is the API envelope. /metrics is the only route without it.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success envelope.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error envelope.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// HealthResponse is returned by /health and /ready.
type HealthResponse struct {
	Status      string    `json:"status"`
	Version     string    `json:"version"`
	Time        time.Time `json:"time"`
	SyncRunning bool      `json:"sync_running,omitempty"`
}

// CredentialRequest is an inline Exchange credential.
type CredentialRequest struct {
	IssuerTaxID string `json:"issuer_tax_id"`
	Token       string `json:"token"`
	Environment string `json:"environment,omitempty"`
}

func (c *CredentialRequest) credential() domain.Credential {
	return domain.Credential{
		IssuerTaxID: c.IssuerTaxID,
		Token:       c.Token,
		Environment: domain.Environment(c.Environment),
	}
}

// DocumentRequest is the body of POST /v1/documents/validate and
// /v1/documents/submit. Submit needs either TenantID or Credential.
type DocumentRequest struct {
	TenantID        string               `json:"tenant_id,omitempty"`
	Credential      *CredentialRequest   `json:"credential,omitempty"`
	Document        *domain.Document     `json:"document"`
	Issuer          domain.IssuerProfile `json:"issuer"`
	Counterparty    domain.Counterparty  `json:"counterparty"`
	WithAttachments bool                 `json:"with_attachments,omitempty"`
}

// ConnectionTestRequest is the body of POST /v1/connection/test.
type ConnectionTestRequest struct {
	TenantID   string             `json:"tenant_id,omitempty"`
	Credential *CredentialRequest `json:"credential,omitempty"`
}

// SyncRunRequest is the body of POST /v1/sync/run. An empty tenant runs
// every active tenant.
type SyncRunRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
}

// SyncRunResponse lists the results of a manual run.
type SyncRunResponse struct {
	Runs []*domain.SyncRunResult `json:"runs"`
}

// RegisterTenantRequest is the body of POST /admin/v1/tenants.
type RegisterTenantRequest struct {
	Name        string `json:"name"`
	IssuerTaxID string `json:"issuer_tax_id"`
	Environment string `json:"environment,omitempty"`
	Token       string `json:"token"`
}

// TenantStatusRequest is the body of POST /admin/v1/tenants/{id}/status.
type TenantStatusRequest struct {
	Active bool `json:"active"`
}

// RotateTokenRequest is the body of POST /admin/v1/tenants/{id}/token.
type RotateTokenRequest struct {
	Token string `json:"token"`
}

// ResetCursorRequest is the body of POST /admin/v1/tenants/{id}/cursors/reset.
// A missing To restarts the subject from the initial lookback.
type ResetCursorRequest struct {
	SubjectType string     `json:"subject_type"`
	To          *time.Time `json:"to,omitempty"`
}

// TenantResponse is a tenant without its sealed token.
type TenantResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	IssuerTaxID string               `json:"issuer_tax_id"`
	Environment string               `json:"environment"`
	Active      bool                 `json:"active"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	Cursors     []*domain.SyncCursor `json:"cursors,omitempty"`
}

func tenantToResponse(t *domain.Tenant) TenantResponse {
	return TenantResponse{
		ID:          t.ID,
		Name:        t.Name,
		IssuerTaxID: t.IssuerTaxID,
		Environment: string(t.Environment),
		Active:      t.Active,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// ListTenantsResponse is returned by GET /admin/v1/tenants.
type ListTenantsResponse struct {
	Tenants []TenantResponse `json:"tenants"`
	Total   int              `json:"total"`
}

// DuplicateDetails accompanies KB-DUP-4090 responses.
type DuplicateDetails struct {
	Key               string `json:"key"`
	ExistingReference string `json:"existing_reference,omitempty"`
}

// ValidationDetails accompanies KB-VAL-4001 responses.
type ValidationDetails struct {
	Errors   []domain.Violation `json:"errors"`
	Warnings []domain.Violation `json:"warnings,omitempty"`
}

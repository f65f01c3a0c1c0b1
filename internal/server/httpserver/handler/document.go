package handler

import (
	"errors"
	"net/http"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/core/service"
)

// Submission outcomes reported to OnSubmit.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
)

// handleValidate handles POST /v1/documents/validate. It never contacts
// the Exchange.
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if !h.decode(w, r, &req) {
		return
	}
	result := h.submissions.Validate(&service.SubmitRequest{
		Document:     req.Document,
		Issuer:       req.Issuer,
		Counterparty: req.Counterparty,
	})
	h.writeJSON(w, r, http.StatusOK, result)
}

// handleSubmit handles POST /v1/documents/submit.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if !h.decode(w, r, &req) {
		return
	}

	cred, err := h.resolveCredential(r, req.TenantID, req.Credential)
	if err != nil {
		h.handleServiceError(w, r, err, nil)
		return
	}

	result, err := h.submissions.SubmitDocument(r.Context(), &service.SubmitRequest{
		Document:        req.Document,
		Issuer:          req.Issuer,
		Counterparty:    req.Counterparty,
		Credential:      cred,
		WithAttachments: req.WithAttachments,
	})
	if err != nil {
		h.onSubmit(submitOutcome(err))
		var details any
		if result != nil && !errors.Is(err, domain.ErrDuplicateSubmission) {
			details = result
		}
		h.handleServiceError(w, r, err, details)
		return
	}

	h.onSubmit(OutcomeAccepted)
	h.writeJSON(w, r, http.StatusCreated, result)
}

func submitOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrDuplicateSubmission):
		return OutcomeDuplicate
	case errors.Is(err, domain.ErrValidationFailed), errors.Is(err, domain.ErrPayloadEncoding), errors.Is(err, domain.ErrPayloadTooLarge):
		return OutcomeInvalid
	default:
		return OutcomeFailed
	}
}

// handleCheckSubmission handles GET /v1/submissions/{tax_id}/{kind}/{number...}.
// The number may contain slashes.
func (h *Handler) handleCheckSubmission(w http.ResponseWriter, r *http.Request) {
	key := domain.SubmissionKey{
		IssuerTaxID:    domain.NormalizeTaxID(r.PathValue("tax_id")),
		DocumentKind:   domain.DocumentKind(r.PathValue("kind")),
		DocumentNumber: r.PathValue("number"),
	}
	check, err := h.duplicates.CheckDuplicate(r.Context(), key)
	if err != nil {
		h.handleServiceError(w, r, err, nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, check)
}

// handleConnectionTest handles POST /v1/connection/test. A failed
// authentication is a 200 with success=false; only malformed input is
// an error.
func (h *Handler) handleConnectionTest(w http.ResponseWriter, r *http.Request) {
	var req ConnectionTestRequest
	if !h.decode(w, r, &req) {
		return
	}
	cred, err := h.resolveCredential(r, req.TenantID, req.Credential)
	if err != nil {
		h.handleServiceError(w, r, err, nil)
		return
	}

	result, err := h.submissions.TestConnection(r.Context(), cred)
	if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrMissingArgument) {
		h.handleServiceError(w, r, err, nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, result)
}

// resolveCredential returns the inline credential or unseals the token of
// a registered tenant.
func (h *Handler) resolveCredential(r *http.Request, tenantID string, inline *CredentialRequest) (domain.Credential, error) {
	switch {
	case tenantID != "" && inline != nil:
		return domain.Credential{}, domain.ErrInvalidArgument.WithDetails("use either tenant_id or credential")
	case inline != nil:
		return inline.credential(), nil
	case tenantID == "":
		return domain.Credential{}, domain.ErrMissingArgument.WithDetails("tenant_id or credential is required")
	}

	t, err := h.tenants.Get(r.Context(), tenantID)
	if err != nil {
		return domain.Credential{}, err
	}
	if !t.Active {
		return domain.Credential{}, domain.ErrInvalidArgument.WithDetails("tenant " + tenantID + " is not active")
	}
	return h.tenants.Credential(r.Context(), t)
}

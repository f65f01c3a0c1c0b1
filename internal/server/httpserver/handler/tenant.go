package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/core/service"
)

// handleRegisterTenant handles POST /admin/v1/tenants.
func (h *Handler) handleRegisterTenant(w http.ResponseWriter, r *http.Request) {
	var req RegisterTenantRequest
	if !h.decode(w, r, &req) {
		return
	}

	t, err := h.tenants.Register(r.Context(), &service.RegisterTenantRequest{
		Name:        req.Name,
		IssuerTaxID: req.IssuerTaxID,
		Environment: domain.Environment(req.Environment),
		Token:       req.Token,
	})
	if err != nil {
		h.handleServiceError(w, r, err, nil)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, tenantToResponse(t))
}

// handleListTenants handles GET /admin/v1/tenants?active=true.
func (h *Handler) handleListTenants(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if s := r.URL.Query().Get("active"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, CodeBadRequest, "active must be a boolean", nil)
			return
		}
		activeOnly = v
	}

	tenants, err := h.tenants.List(r.Context(), activeOnly)
	if err != nil {
		h.handleServiceError(w, r, err, nil)
		return
	}
	resp := ListTenantsResponse{Tenants: make([]TenantResponse, 0, len(tenants)), Total: len(tenants)}
	for _, t := range tenants {
		resp.Tenants = append(resp.Tenants, tenantToResponse(t))
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleGetTenant handles GET /admin/v1/tenants/{id}, cursors included.
func (h *Handler) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := h.tenants.Get(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err, nil)
		return
	}
	cursors, err := h.tenants.Cursors(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err, nil)
		return
	}
	resp := tenantToResponse(t)
	resp.Cursors = cursors
	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleTenantStatus handles POST /admin/v1/tenants/{id}/status.
func (h *Handler) handleTenantStatus(w http.ResponseWriter, r *http.Request) {
	var req TenantStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.tenants.SetActive(r.Context(), r.PathValue("id"), req.Active)
	if err != nil {
		h.handleServiceError(w, r, err, nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, tenantToResponse(t))
}

// handleRotateToken handles POST /admin/v1/tenants/{id}/token.
func (h *Handler) handleRotateToken(w http.ResponseWriter, r *http.Request) {
	var req RotateTokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.tenants.RotateToken(r.Context(), r.PathValue("id"), req.Token)
	if err != nil {
		h.handleServiceError(w, r, err, nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, tenantToResponse(t))
}

// handleResetCursor handles POST /admin/v1/tenants/{id}/cursors/reset.
func (h *Handler) handleResetCursor(w http.ResponseWriter, r *http.Request) {
	var req ResetCursorRequest
	if !h.decode(w, r, &req) {
		return
	}
	var to time.Time
	if req.To != nil {
		to = req.To.UTC()
	}

	id := r.PathValue("id")
	if err := h.tenants.ResetCursor(r.Context(), id, domain.SubjectType(req.SubjectType), to); err != nil {
		h.handleServiceError(w, r, err, nil)
		return
	}
	cursors, err := h.tenants.Cursors(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err, nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"cursors": cursors})
}

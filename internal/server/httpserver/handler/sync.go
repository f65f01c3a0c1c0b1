package handler

import (
	"net/http"
	"strconv"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

const defaultRunsLimit = 50

// handleSyncRun handles POST /v1/sync/run. It blocks until the run ends.
func (h *Handler) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	var req SyncRunRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	runs, err := h.sync.RunManualSync(r.Context(), req.TenantID)
	if err != nil && len(runs) == 0 {
		h.handleServiceError(w, r, err, nil)
		return
	}
	if err != nil {
		// Cancelled between batches: report what finished.
		h.handleServiceError(w, r, err, SyncRunResponse{Runs: runs})
		return
	}
	if runs == nil {
		runs = []*domain.SyncRunResult{}
	}
	h.writeJSON(w, r, http.StatusOK, SyncRunResponse{Runs: runs})
}

// handleSyncRuns handles GET /v1/sync/runs?tenant_id=&limit=.
func (h *Handler) handleSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeError(w, r, http.StatusBadRequest, CodeBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	runs, err := h.sync.Runs(r.Context(), r.URL.Query().Get("tenant_id"), limit)
	if err != nil {
		h.handleServiceError(w, r, err, nil)
		return
	}
	if runs == nil {
		runs = []*domain.SyncRunResult{}
	}
	h.writeJSON(w, r, http.StatusOK, SyncRunResponse{Runs: runs})
}

package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/ksefbridge-go/internal/infra/buildinfo"
)

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: buildinfo.Get().Version,
		Time:    time.Now().UTC(),
	})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.writeError(w, r, http.StatusServiceUnavailable, "KB-SYS-5030", "not ready: "+err.Error(), nil)
			return
		}
	}
	resp := HealthResponse{Status: "ready", Version: buildinfo.Get().Version, Time: time.Now().UTC()}
	if h.sync != nil {
		resp.SyncRunning = h.sync.Running()
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

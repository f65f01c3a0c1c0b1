package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/core/service"
	"github.com/yndnr/ksefbridge-go/internal/core/validator"
	"github.com/yndnr/ksefbridge-go/internal/telemetry/logger"
)

// maxBodySize caps request bodies; documents with attachments are the
// largest.
const maxBodySize = 8 << 20

// API error codes raised by the handler layer itself.
const (
	CodeBadRequest   = "KB-API-4000"
	CodeUnauthorized = "KB-API-4010"
	CodeInternal     = "KB-SYS-5000"
)

// Submitter submits and validates documents.
type Submitter interface {
	Validate(req *service.SubmitRequest) validator.Result
	SubmitDocument(ctx context.Context, req *service.SubmitRequest) (*service.SubmitResult, error)
	TestConnection(ctx context.Context, cred domain.Credential) (*service.ConnectionResult, error)
}

// DuplicateChecker answers submission ledger lookups.
type DuplicateChecker interface {
	CheckDuplicate(ctx context.Context, key domain.SubmissionKey) (*service.DuplicateCheck, error)
}

// SyncRunner runs and reports sync runs.
type SyncRunner interface {
	RunManualSync(ctx context.Context, tenantID string) ([]*domain.SyncRunResult, error)
	Runs(ctx context.Context, tenantID string, limit int) ([]*domain.SyncRunResult, error)
	Running() bool
}

// TenantManager manages tenants.
type TenantManager interface {
	Register(ctx context.Context, req *service.RegisterTenantRequest) (*domain.Tenant, error)
	Get(ctx context.Context, id string) (*domain.Tenant, error)
	List(ctx context.Context, activeOnly bool) ([]*domain.Tenant, error)
	SetActive(ctx context.Context, id string, active bool) (*domain.Tenant, error)
	RotateToken(ctx context.Context, id, token string) (*domain.Tenant, error)
	ResetCursor(ctx context.Context, id string, subject domain.SubjectType, to time.Time) error
	Cursors(ctx context.Context, id string) ([]*domain.SyncCursor, error)
	Credential(ctx context.Context, t *domain.Tenant) (domain.Credential, error)
}

// Config wires the handler to services.
type Config struct {
	Submissions Submitter
	Duplicates  DuplicateChecker
	Sync        SyncRunner
	Tenants     TenantManager
	// Ready reports whether dependencies (storage) are usable.
	Ready func(ctx context.Context) error
	// OnSubmit observes submission outcomes, e.g. for metrics.
	OnSubmit func(outcome string)
	Logger   *slog.Logger
}

// Handler serves the API routes.
type Handler struct {
	submissions Submitter
	duplicates  DuplicateChecker
	sync        SyncRunner
	tenants     TenantManager
	ready       func(ctx context.Context) error
	onSubmit    func(outcome string)
	logger      *slog.Logger
	mux         *http.ServeMux
}

// New creates a Handler.
func New(cfg Config) *Handler {
	h := &Handler{
		submissions: cfg.Submissions,
		duplicates:  cfg.Duplicates,
		sync:        cfg.Sync,
		tenants:     cfg.Tenants,
		ready:       cfg.Ready,
		onSubmit:    cfg.OnSubmit,
		logger:      cfg.Logger,
		mux:         http.NewServeMux(),
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.onSubmit == nil {
		h.onSubmit = func(string) {}
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	// Documents
	h.mux.HandleFunc("POST /v1/documents/validate", h.handleValidate)
	h.mux.HandleFunc("POST /v1/documents/submit", h.handleSubmit)
	h.mux.HandleFunc("GET /v1/submissions/{tax_id}/{kind}/{number...}", h.handleCheckSubmission)
	h.mux.HandleFunc("POST /v1/connection/test", h.handleConnectionTest)

	// Sync
	h.mux.HandleFunc("POST /v1/sync/run", h.handleSyncRun)
	h.mux.HandleFunc("GET /v1/sync/runs", h.handleSyncRuns)

	// Tenants
	h.mux.HandleFunc("POST /admin/v1/tenants", h.handleRegisterTenant)
	h.mux.HandleFunc("GET /admin/v1/tenants", h.handleListTenants)
	h.mux.HandleFunc("GET /admin/v1/tenants/{id}", h.handleGetTenant)
	h.mux.HandleFunc("POST /admin/v1/tenants/{id}/status", h.handleTenantStatus)
	h.mux.HandleFunc("POST /admin/v1/tenants/{id}/token", h.handleRotateToken)
	h.mux.HandleFunc("POST /admin/v1/tenants/{id}/cursors/reset", h.handleResetCursor)

	h.mux.HandleFunc("/", h.handleNotFound)
}

// writeJSON writes a success envelope.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := logger.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		h.logger.Error("failed to encode response", "error", err, "request_id", requestID)
	}
}

// writeError writes an error envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	WriteError(w, logger.RequestIDFromContext(r.Context()), status, code, message, details)
}

// WriteError writes an error envelope outside a Handler (middleware).
func WriteError(w http.ResponseWriter, requestID string, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message, details))
}

// decode reads a JSON body into v, rejecting unknown fields.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, http.StatusRequestEntityTooLarge, domain.ErrPayloadTooLarge.Code, "request body too large", nil)
			return false
		}
		h.writeError(w, r, http.StatusBadRequest, CodeBadRequest, "invalid request body: "+err.Error(), nil)
		return false
	}
	return true
}

// handleServiceError converts service errors to responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error, details any) {
	var dup *domain.DuplicateFailure
	if errors.As(err, &dup) && details == nil {
		details = DuplicateDetails{Key: dup.Key.String(), ExistingReference: dup.ExistingReference}
	}
	var vf *domain.ValidationFailure
	if errors.As(err, &vf) && details == nil {
		details = ValidationDetails{Errors: vf.Errors, Warnings: vf.Warnings}
	}

	if code := domain.GetErrorCode(err); code != "" {
		status := ErrorCodeToHTTPStatus(code)
		if status >= 500 {
			logger.Wrap(h.logger).WithContext(r.Context()).Error("request failed", "error", err)
		}
		h.writeError(w, r, status, code, err.Error(), details)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		h.writeError(w, r, http.StatusServiceUnavailable, CodeInternal, "request cancelled", details)
		return
	}

	logger.Wrap(h.logger).WithContext(r.Context()).Error("internal error", "error", err)
	h.writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal server error", details)
}

// ErrorCodeToHTTPStatus maps KB-<AREA>-<NNNN> to NNNN/10 when that is a
// 4xx or 5xx status. Argument errors are 400.
func ErrorCodeToHTTPStatus(code string) int {
	if strings.HasPrefix(code, "KB-ARG-") {
		return http.StatusBadRequest
	}
	i := strings.LastIndexByte(code, '-')
	if i < 0 {
		return http.StatusInternalServerError
	}
	n, err := strconv.Atoi(code[i+1:])
	if err != nil || n < 1000 || n > 9999 {
		return http.StatusInternalServerError
	}
	status := n / 10
	if status < 400 || status > 599 || http.StatusText(status) == "" {
		return http.StatusInternalServerError
	}
	return status
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "KB-API-4040", "no route for "+r.Method+" "+r.URL.Path, nil)
}

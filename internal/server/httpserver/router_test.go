package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/server/httpserver/handler"
	"github.com/yndnr/ksefbridge-go/internal/telemetry/metric"
	"github.com/yndnr/ksefbridge-go/pkg/apikey"
)

type stubSync struct{}

func (stubSync) RunManualSync(context.Context, string) ([]*domain.SyncRunResult, error) {
	return nil, nil
}

func (stubSync) Runs(context.Context, string, int) ([]*domain.SyncRunResult, error) {
	return nil, nil
}

func (stubSync) Running() bool { return false }

func newTestRouter(t *testing.T, authOnMetrics bool) (http.Handler, string, *metric.Registry) {
	t.Helper()
	key, err := apikey.Generate()
	if err != nil {
		t.Fatal(err)
	}
	hash, err := apikey.Hash(key)
	if err != nil {
		t.Fatal(err)
	}
	reg := metric.NewRegistry()
	router := NewRouter(&RouterConfig{
		Handler:             handler.Config{Sync: stubSync{}},
		APIKeyHash:          hash,
		Metrics:             reg,
		MetricsAuthRequired: authOnMetrics,
		Logger:              discard,
	})
	return router, key, reg
}

func TestRouter_PublicAndProtected(t *testing.T) {
	router, key, reg := newTestRouter(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{"health is public", "GET", "/health", "", http.StatusOK},
		{"ready is public", "GET", "/ready", "", http.StatusOK},
		{"metrics is public", "GET", "/metrics", "", http.StatusOK},
		{"api needs key", "GET", "/v1/sync/runs", "", http.StatusUnauthorized},
		{"api with key", "GET", "/v1/sync/runs", key, http.StatusOK},
		{"admin needs key", "GET", "/admin/v1/tenants", "", http.StatusUnauthorized},
		{"unknown path", "GET", "/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("Authorization", "Bearer "+tt.key)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID")
			}
		})
	}

	if got := testutil.ToFloat64(reg.RequestsTotal.WithLabelValues("GET", "/v1/sync/runs", "200")); got != 1 {
		t.Errorf("sync runs counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.RequestsTotal.WithLabelValues("GET", "/health", "200")); got != 1 {
		t.Errorf("health counter = %v, want 1", got)
	}
}

func TestRouter_MetricsAuth(t *testing.T) {
	router, key, _ := newTestRouter(t, true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.Header.Set("X-API-Key", key)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ksefbridge_build_info") {
		t.Error("metrics output missing build info")
	}
}

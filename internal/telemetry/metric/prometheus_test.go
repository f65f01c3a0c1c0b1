package metric

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r.registry == nil {
		t.Fatal("registry field is nil")
	}
	if r.RequestsTotal == nil || r.RequestDuration == nil || r.SubmissionsTotal == nil || r.Live == nil {
		t.Fatal("metrics not initialized")
	}

	mfs, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{"ksefbridge_build_info", "go_goroutines"} {
		if !names[want] {
			t.Errorf("metric %s missing", want)
		}
	}
}

func TestGlobal(t *testing.T) {
	if Global() != Global() {
		t.Error("Global() should return the same instance")
	}
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.RequestsTotal.WithLabelValues("GET", "/health", "200").Inc()

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `ksefbridge_http_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Errorf("request counter missing from output:\n%s", body)
	}
}

func TestRegisterer(t *testing.T) {
	r := NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "ksefbridge_test_total", Help: "test"})
	if err := r.Registerer().Register(c); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	c.Add(3)
	if got := testutil.ToFloat64(c); got != 3 {
		t.Errorf("counter = %v, want 3", got)
	}
}

func TestCollector(t *testing.T) {
	r := NewRegistry()
	n := 2.0
	r.Live.Add("token_cache_entries", "Cached token pairs.", func() float64 { return n })

	if got := testutil.ToFloat64(r.Live); got != 2 {
		t.Errorf("gauge = %v, want 2", got)
	}
	n = 5
	if got := testutil.ToFloat64(r.Live); got != 5 {
		t.Errorf("gauge = %v, want 5", got)
	}
}

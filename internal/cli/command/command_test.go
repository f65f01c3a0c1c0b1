package command

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/ksefbridge-go/internal/cli/config"
	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/server/httpserver/handler"
	"github.com/yndnr/ksefbridge-go/pkg/apikey"
)

const validDocJSON = `{
  "document": {
    "kind": "VAT",
    "number": "FV/2025/03/001",
    "issue_date": "2025-03-01T00:00:00Z",
    "currency": "PLN",
    "items": [{"name": "Consulting", "unit": "h", "quantity": 2, "unit_price": 100, "vat_rate": 23}],
    "net_total": 200
  },
  "issuer": {"tax_id": "1234563218", "name": "Seller", "address": {"country_code": "PL", "line1": "ul. Prosta 1"}},
  "counterparty": {"tax_id": "5261040828", "name": "Buyer", "address": {"country_code": "PL", "line1": "ul. Krzywa 2"}}
}`

const validDocYAML = `document:
  kind: VAT
  number: FV/2025/03/002
  issue_date: 2025-03-01
  currency: PLN
  items:
    - name: Consulting
      unit: h
      quantity: 2
      unit_price: 100
      vat_rate: 23
  net_total: 200
issuer:
  tax_id: "1234563218"
  name: Seller
  address: {country_code: PL, line1: ul. Prosta 1}
counterparty:
  tax_id: "5261040828"
  name: Buyer
  address: {country_code: PL, line1: ul. Krzywa 2}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

// fakeServer answers with the daemon envelope and records requests.
type fakeServer struct {
	mu       sync.Mutex
	requests []recorded
	routes   map[string]func(body []byte) (int, string, any, any)
}

type recorded struct {
	method string
	path   string
	auth   string
	body   []byte
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{routes: make(map[string]func([]byte) (int, string, any, any))}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fs.mu.Lock()
		fs.requests = append(fs.requests, recorded{method: r.Method, path: r.URL.EscapedPath(), auth: r.Header.Get("Authorization"), body: body})
		route, ok := fs.routes[r.Method+" "+r.URL.EscapedPath()]
		fs.mu.Unlock()

		status, code, data, details := http.StatusNotFound, "KB-API-4040", any(nil), any(nil)
		if ok {
			status, code, data, details = route(body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(handler.Response{
			Code:      code,
			Message:   http.StatusText(status),
			RequestID: "req-1",
			Data:      data,
			Details:   details,
		})
	}))
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *fakeServer) handle(route string, fn func(body []byte) (int, string, any, any)) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.routes[route] = fn
}

func (fs *fakeServer) last() recorded {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.requests[len(fs.requests)-1]
}

// run executes the CLI with an isolated config file.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("KSEFBRIDGE_TOKEN", "")
	os.Unsetenv("KSEFBRIDGE_TOKEN")
	var out, errOut bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = &errOut
	cfgPath := filepath.Join(t.TempDir(), "cli.yaml")
	argv := append([]string{"ksefbridge-cli", "--config", cfgPath}, args...)
	err := app.Run(argv)
	return out.String(), err
}

func TestLoadDocumentFile(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		f, err := LoadDocumentFile(writeFile(t, "doc.json", validDocJSON))
		require.NoError(t, err)
		assert.Equal(t, "FV/2025/03/001", f.Document.Number)
		assert.Equal(t, domain.KindVAT, f.Document.Kind)
		assert.Equal(t, "1234563218", f.Issuer.TaxID)
	})

	t.Run("yaml with plain date", func(t *testing.T) {
		f, err := LoadDocumentFile(writeFile(t, "doc.yaml", validDocYAML))
		require.NoError(t, err)
		assert.Equal(t, "FV/2025/03/002", f.Document.Number)
		assert.Equal(t, "2025-03-01", f.Document.IssueDate.Format("2006-01-02"))
		assert.Len(t, f.Document.Items, 1)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := LoadDocumentFile(writeFile(t, "doc.json", `{"document": {}, "extra": 1}`))
		assert.Error(t, err)
	})

	t.Run("missing document", func(t *testing.T) {
		_, err := LoadDocumentFile(writeFile(t, "doc.json", `{"issuer": {"tax_id": "1"}}`))
		assert.ErrorContains(t, err, "document is missing")
	})
}

func TestBefore_FlagsOverrideConfigAndEnv(t *testing.T) {
	cfgPath := writeFile(t, "cli.yaml", "server: http://from-file:1\noutput: table\n")
	t.Setenv(config.EnvPrefix+"OUTPUT", "yaml")

	var out bytes.Buffer
	app := App()
	app.Writer = &out
	err := app.Run([]string{"ksefbridge-cli", "-c", cfgPath, "-o", "json", "-s", "http://from-flag:2", "config", "show"})
	require.NoError(t, err)

	var shown config.CLIConfig
	require.NoError(t, json.Unmarshal(out.Bytes(), &shown))
	assert.Equal(t, "http://from-flag:2", shown.Server)
	assert.Equal(t, "json", shown.Output)
}

func TestBefore_RejectsBadOutput(t *testing.T) {
	_, err := run(t, "-o", "xml", "config", "show")
	assert.Error(t, err)
}

func TestConfigSetAndShow(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "cli.yaml")
	app := App()
	app.Writer = io.Discard
	require.NoError(t, app.Run([]string{"ksefbridge-cli", "-c", cfgPath, "config", "set", "api_key", "kb_secretvalue"}))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "kb_secretvalue", cfg.APIKey)

	var out bytes.Buffer
	app = App()
	app.Writer = &out
	require.NoError(t, app.Run([]string{"ksefbridge-cli", "-c", cfgPath, "config", "show"}))
	assert.Contains(t, out.String(), "kb_s****")
	assert.NotContains(t, out.String(), "kb_secretvalue")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", maskSecret(""))
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "abcd****", maskSecret("abcdefghijkl"))
}

func TestValidateCommand(t *testing.T) {
	out, err := run(t, "validate", writeFile(t, "ok.json", validDocJSON))
	require.NoError(t, err)
	assert.Contains(t, out, "1 document(s) valid")

	bad := strings.Replace(validDocJSON, `"net_total": 200`, `"net_total": 199`, 1)
	out, err = run(t, "validate", writeFile(t, "bad.json", bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 document(s) invalid")
	assert.Contains(t, out, "TOTALS")
}

func TestValidateCommand_XML(t *testing.T) {
	out, err := run(t, "validate", "--xml", writeFile(t, "ok.json", validDocJSON))
	require.NoError(t, err)
	assert.Contains(t, out, "FV/2025/03/001")
	assert.Contains(t, out, "<?xml")
}

func TestSubmitCommand(t *testing.T) {
	fs, srv := newFakeServer(t)
	fs.handle("POST /v1/documents/submit", func(body []byte) (int, string, any, any) {
		var req handler.DocumentRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return http.StatusBadRequest, "KB-API-4000", nil, nil
		}
		if req.Document.Number == "FV/2025/03/002" {
			return http.StatusConflict, domain.ErrDuplicateSubmission.Code, nil,
				handler.DuplicateDetails{Key: "k", ExistingReference: "REF-OLD"}
		}
		return http.StatusCreated, "OK", map[string]any{"success": true, "reference_number": "REF-NEW"}, nil
	})

	first := writeFile(t, "a.json", validDocJSON)
	second := writeFile(t, "b.yaml", validDocYAML)

	out, err := run(t, "-s", srv.URL, "-K", "kb_key", "-o", "json", "submit", "--tenant", "t-1", first, second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 submission(s) not accepted")

	var rows []submitRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, handler.OutcomeAccepted, rows[0].Outcome)
	assert.Equal(t, "REF-NEW", rows[0].Reference)
	assert.Equal(t, handler.OutcomeDuplicate, rows[1].Outcome)
	assert.Equal(t, "REF-OLD", rows[1].Reference)

	assert.Equal(t, "Bearer kb_key", fs.last().auth)
	var sent handler.DocumentRequest
	require.NoError(t, json.Unmarshal(fs.last().body, &sent))
	assert.Equal(t, "t-1", sent.TenantID)
	assert.Nil(t, sent.Credential)
}

func TestSubmitCommand_CredentialFlags(t *testing.T) {
	_, err := run(t, "submit", writeFile(t, "a.json", validDocJSON))
	assert.ErrorContains(t, err, "--tenant")

	_, err = run(t, "submit", "--tenant", "t-1", "--tax-id", "1234563218", "--token", "x", writeFile(t, "a.json", validDocJSON))
	assert.ErrorContains(t, err, "either --tenant")
}

func TestSubmissionCheck(t *testing.T) {
	fs, srv := newFakeServer(t)
	fs.handle("GET /v1/submissions/1234563218/VAT/FV/2025/03/001", func([]byte) (int, string, any, any) {
		return http.StatusOK, "OK", map[string]any{"is_duplicate": true, "existing_reference": "REF-1", "submitted_at": "2025-03-02T10:00:00Z"}, nil
	})

	out, err := run(t, "-s", srv.URL, "submission", "check", "--tax-id", "1234563218", "--number", "FV/2025/03/001")
	require.NoError(t, err)
	assert.Contains(t, out, "submitted (reference REF-1")
}

func TestTenantCommands(t *testing.T) {
	fs, srv := newFakeServer(t)
	tenant := handler.TenantResponse{ID: "t-1", Name: "Acme", IssuerTaxID: "1234563218", Environment: "test", Active: true}
	fs.handle("POST /admin/v1/tenants", func([]byte) (int, string, any, any) {
		return http.StatusCreated, "OK", tenant, nil
	})
	fs.handle("GET /admin/v1/tenants", func([]byte) (int, string, any, any) {
		return http.StatusOK, "OK", handler.ListTenantsResponse{Tenants: []handler.TenantResponse{tenant}, Total: 1}, nil
	})
	fs.handle("POST /admin/v1/tenants/t-1/status", func([]byte) (int, string, any, any) {
		disabled := tenant
		disabled.Active = false
		return http.StatusOK, "OK", disabled, nil
	})
	fs.handle("POST /admin/v1/tenants/t-1/cursors/reset", func([]byte) (int, string, any, any) {
		return http.StatusOK, "OK", map[string]any{"cursors": []any{}}, nil
	})

	_, err := run(t, "-s", srv.URL, "tenant", "add", "--name", "Acme", "--tax-id", "1234563218", "--token", "secret")
	require.NoError(t, err)
	var reg handler.RegisterTenantRequest
	require.NoError(t, json.Unmarshal(fs.last().body, &reg))
	assert.Equal(t, "secret", reg.Token)
	assert.Equal(t, "1234563218", reg.IssuerTaxID)

	out, err := run(t, "-s", srv.URL, "tenant", "list", "--active")
	require.NoError(t, err)
	assert.Contains(t, out, "Acme")

	_, err = run(t, "-s", srv.URL, "tenant", "disable", "t-1")
	require.NoError(t, err)
	var status handler.TenantStatusRequest
	require.NoError(t, json.Unmarshal(fs.last().body, &status))
	assert.False(t, status.Active)

	_, err = run(t, "-s", srv.URL, "tenant", "reset-cursor", "--subject", "Subject1", "--to", "2025-01-01", "t-1")
	require.NoError(t, err)
	var reset handler.ResetCursorRequest
	require.NoError(t, json.Unmarshal(fs.last().body, &reset))
	assert.Equal(t, "Subject1", reset.SubjectType)
	require.NotNil(t, reset.To)
	assert.Equal(t, 2025, reset.To.Year())

	_, err = run(t, "-s", srv.URL, "tenant", "show")
	assert.ErrorContains(t, err, "TENANT_ID")
}

func TestAPIErrorSurfaces(t *testing.T) {
	fs, srv := newFakeServer(t)
	fs.handle("GET /admin/v1/tenants/missing", func([]byte) (int, string, any, any) {
		return http.StatusNotFound, domain.ErrTenantNotFound.Code, nil, nil
	})

	_, err := run(t, "-s", srv.URL, "tenant", "show", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.ErrTenantNotFound.Code)
}

func TestSystemHealth(t *testing.T) {
	fs, srv := newFakeServer(t)
	fs.handle("GET /health", func([]byte) (int, string, any, any) {
		return http.StatusOK, "OK", handler.HealthResponse{Status: "ok", Version: "1.0.0"}, nil
	})

	out, err := run(t, "-s", srv.URL, "-o", "json", "system", "health")
	require.NoError(t, err)
	var h handler.HealthResponse
	require.NoError(t, json.Unmarshal([]byte(out), &h))
	assert.Equal(t, "ok", h.Status)
}

func TestHashKeyCommand(t *testing.T) {
	out, err := run(t, "hash-key", "kb_mykey")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "hash: "))

	ok, err := apikey.Verify("kb_mykey", strings.TrimSpace(strings.TrimPrefix(out, "hash: ")))
	require.NoError(t, err)
	assert.True(t, ok)

	out, err = run(t, "hash-key")
	require.NoError(t, err)
	assert.Contains(t, out, "key:  ")
}

func TestCommandPaths(t *testing.T) {
	paths := commandPaths(App().Commands, "")
	assert.Contains(t, paths, "tenant")
	assert.Contains(t, paths, "tenant reset-cursor")
	assert.Contains(t, paths, "sync run")
	assert.NotContains(t, paths, "shell")
}

func TestShellCommand(t *testing.T) {
	var out bytes.Buffer
	app := App()
	app.Writer = &out
	app.Reader = strings.NewReader("hash-key kb_fromshell\nexit\n")
	cfgPath := filepath.Join(t.TempDir(), "cli.yaml")

	err := app.Run([]string{"ksefbridge-cli", "-c", cfgPath, "shell", "--history", "-"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "hash: $argon2id$")
}

func TestParseDay(t *testing.T) {
	d, err := parseDay("2025-02-03")
	require.NoError(t, err)
	assert.Equal(t, 3, d.Day())

	d, err = parseDay("2025-02-03T10:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, 8, d.Hour())

	_, err = parseDay("03.02.2025")
	assert.Error(t, err)
}

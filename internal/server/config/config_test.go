package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/ksefbridge-go/internal/infra/confloader"
)

func validConfig(t *testing.T) *BridgeConfig {
	t.Helper()
	cfg := Default()
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "data")
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTP.Addr)
	assert.Equal(t, "test", cfg.Exchange.Environment)
	assert.Equal(t, "FA (3)", cfg.Exchange.Form.SystemCode)
	assert.Equal(t, MaxQueryWindow, cfg.Sync.MaxWindow)
	assert.Equal(t, []string{"Subject1", "Subject2"}, cfg.Sync.SubjectTypes)
	assert.Equal(t, 3, cfg.Sync.Concurrency)
	assert.Equal(t, "badger", cfg.Storage.Engine)
	assert.True(t, cfg.Storage.SyncWrites)
	assert.False(t, cfg.Server.HTTP.TLSEnabled())
}

func TestVerify_Default(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, Verify(cfg))

	_, err := os.Stat(cfg.Storage.DataDir)
	assert.NoError(t, err, "data dir should be created")
}

func TestVerify_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*BridgeConfig)
		want   string
	}{
		{"bad addr", func(c *BridgeConfig) { c.Server.HTTP.Addr = "nope" }, "server.http.addr"},
		{"cert without key", func(c *BridgeConfig) { c.Server.HTTP.TLSCertFile = "/x.crt" }, "set together"},
		{"unknown env", func(c *BridgeConfig) { c.Exchange.Environment = "staging" }, "exchange.environment"},
		{"bad base url", func(c *BridgeConfig) { c.Exchange.BaseURL = "ftp://x" }, "exchange.base_url"},
		{"missing ca file", func(c *BridgeConfig) { c.Exchange.CAFile = "/nonexistent/ca.pem" }, "exchange.ca_file"},
		{"zero poll", func(c *BridgeConfig) { c.Exchange.Session.PollAttempts = 0 }, "exchange.session"},
		{"form", func(c *BridgeConfig) { c.Exchange.Form.Value = "" }, "exchange.form"},
		{"retry delays", func(c *BridgeConfig) { c.Retry.MaxDelay = time.Millisecond }, "base_delay <= max_delay"},
		{"rps", func(c *BridgeConfig) { c.Retry.RequestsPerSecond = 0 }, "requests_per_second"},
		{"window too wide", func(c *BridgeConfig) { c.Sync.MaxWindow = 91 * 24 * time.Hour }, "sync.max_window"},
		{"unknown subject", func(c *BridgeConfig) { c.Sync.SubjectTypes = []string{"Subject9"} }, "Subject9"},
		{"page size", func(c *BridgeConfig) { c.Sync.PageSize = 1000 }, "sync.page_size"},
		{"interval", func(c *BridgeConfig) { c.Sync.Interval = 0 }, "sync.interval"},
		{"engine", func(c *BridgeConfig) { c.Storage.Engine = "bolt" }, "storage.engine"},
		{"level", func(c *BridgeConfig) { c.Log.Level = "loud" }, "log.level"},
		{"format", func(c *BridgeConfig) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := Verify(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestVerify_ReportsAllProblems(t *testing.T) {
	cfg := validConfig(t)
	cfg.Log.Level = "loud"
	cfg.Exchange.Environment = "staging"
	err := Verify(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
	assert.Contains(t, err.Error(), "exchange.environment")
}

func TestVerify_SyncDisabledSkipsInterval(t *testing.T) {
	cfg := validConfig(t)
	cfg.Sync.Enabled = false
	cfg.Sync.Interval = 0
	assert.NoError(t, Verify(cfg))
}

func TestVerify_MemoryEngineNeedsNoDir(t *testing.T) {
	cfg := validConfig(t)
	cfg.Storage.Engine = "memory"
	cfg.Storage.DataDir = ""
	assert.NoError(t, Verify(cfg))
}

func TestSanitize(t *testing.T) {
	cfg := Default()
	cfg.Security.EncryptionKey = "super-secret-key-1234567890"
	cfg.Server.HTTP.APIKeyHash = "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"

	s := Sanitize(cfg)

	assert.Equal(t, "super-secret-key-1234567890", cfg.Security.EncryptionKey, "original changed")
	assert.NotEqual(t, cfg.Security.EncryptionKey, s.Security.EncryptionKey)
	assert.True(t, strings.HasPrefix(s.Security.EncryptionKey, "su"))
	assert.True(t, strings.HasSuffix(s.Security.EncryptionKey, "90"))
	assert.NotContains(t, s.Server.HTTP.APIKeyHash, "c2FsdA")

	s.Sync.SubjectTypes[0] = "changed"
	assert.Equal(t, "Subject1", cfg.Sync.SubjectTypes[0], "slices must not be shared")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("abc"))
	assert.Equal(t, "ab**ef", maskSecret("abcdef"))
}

func TestLoadFromYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ksefbridge.yaml")
	yaml := `
exchange:
  environment: demo
  timeout: 10s
sync:
  subject_types: [Subject1]
  initial_lookback: 48h
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CFGTEST_RETRY__MAX_ATTEMPTS", "2")
	t.Setenv("CFGTEST_SERVER__HTTP__API_KEY_HASH", "hash")

	cfg := Default()
	l := confloader.NewLoader(confloader.WithConfigFile(path), confloader.WithEnvPrefix("CFGTEST_"))
	require.NoError(t, l.Load(cfg))

	assert.Equal(t, "demo", cfg.Exchange.Environment)
	assert.Equal(t, 10*time.Second, cfg.Exchange.Timeout)
	assert.Equal(t, []string{"Subject1"}, cfg.Sync.SubjectTypes)
	assert.Equal(t, 48*time.Hour, cfg.Sync.InitialLookback)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, "hash", cfg.Server.HTTP.APIKeyHash)
	// untouched defaults survive
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTP.Addr)
	assert.Equal(t, DefaultPageSize, cfg.Sync.PageSize)
}

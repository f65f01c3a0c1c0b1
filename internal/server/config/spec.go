package config

import "time"

// BridgeConfig is the root configuration of ksefbridge-server.
type BridgeConfig struct {
	Server   ServerSection   `koanf:"server" yaml:"server"`
	Exchange ExchangeSection `koanf:"exchange" yaml:"exchange"`
	Retry    RetrySection    `koanf:"retry" yaml:"retry"`
	Sync     SyncSection     `koanf:"sync" yaml:"sync"`
	Storage  StorageSection  `koanf:"storage" yaml:"storage"`
	Security SecuritySection `koanf:"security" yaml:"security"`
	Log      LogSection      `koanf:"log" yaml:"log"`
}

// ServerSection configures inbound endpoints.
type ServerSection struct {
	HTTP            HTTPConfig    `koanf:"http" yaml:"http"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Addr        string `koanf:"addr" yaml:"addr"`
	TLSCertFile string `koanf:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file" yaml:"tls_key_file"`
	// APIKeyHash is the argon2id hash produced by `ksefbridge-cli hash-key`.
	// Empty disables authentication of /v1 and /admin routes.
	APIKeyHash string `koanf:"api_key_hash" yaml:"api_key_hash"`
}

// TLSEnabled reports whether the listener serves HTTPS.
func (c HTTPConfig) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// ExchangeSection configures the outbound Exchange client.
type ExchangeSection struct {
	Environment    string        `koanf:"environment" yaml:"environment"`
	BaseURL        string        `koanf:"base_url" yaml:"base_url"`
	CAFile         string        `koanf:"ca_file" yaml:"ca_file"`
	Timeout        time.Duration `koanf:"timeout" yaml:"timeout"`
	Form           FormConfig    `koanf:"form" yaml:"form"`
	Auth           PollConfig    `koanf:"auth" yaml:"auth"`
	Session        PollConfig    `koanf:"session" yaml:"session"`
	CertificateTTL time.Duration `koanf:"certificate_ttl" yaml:"certificate_ttl"`
}

// FormConfig names the structured invoice schema.
type FormConfig struct {
	SystemCode    string `koanf:"system_code" yaml:"system_code"`
	SchemaVersion string `koanf:"schema_version" yaml:"schema_version"`
	Value         string `koanf:"value" yaml:"value"`
}

// PollConfig bounds a status polling loop.
type PollConfig struct {
	PollAttempts int           `koanf:"poll_attempts" yaml:"poll_attempts"`
	PollInterval time.Duration `koanf:"poll_interval" yaml:"poll_interval"`
}

// RetrySection configures the outbound governor.
type RetrySection struct {
	MaxAttempts       int           `koanf:"max_attempts" yaml:"max_attempts"`
	BaseDelay         time.Duration `koanf:"base_delay" yaml:"base_delay"`
	MaxDelay          time.Duration `koanf:"max_delay" yaml:"max_delay"`
	RequestsPerSecond float64       `koanf:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `koanf:"burst" yaml:"burst"`
}

// SyncSection configures scheduled retrieval.
type SyncSection struct {
	Enabled         bool          `koanf:"enabled" yaml:"enabled"`
	Interval        time.Duration `koanf:"interval" yaml:"interval"`
	Concurrency     int           `koanf:"concurrency" yaml:"concurrency"`
	BatchSize       int           `koanf:"batch_size" yaml:"batch_size"`
	BatchDelay      time.Duration `koanf:"batch_delay" yaml:"batch_delay"`
	SubjectTypes    []string      `koanf:"subject_types" yaml:"subject_types"`
	InitialLookback time.Duration `koanf:"initial_lookback" yaml:"initial_lookback"`
	MaxWindow       time.Duration `koanf:"max_window" yaml:"max_window"`
	PageSize        int           `koanf:"page_size" yaml:"page_size"`
	DownloadContent bool          `koanf:"download_content" yaml:"download_content"`
}

// StorageSection configures persistence.
type StorageSection struct {
	// Engine is "badger" or "memory". Memory loses the submission ledger
	// on restart and is meant for trials.
	Engine     string        `koanf:"engine" yaml:"engine"`
	DataDir    string        `koanf:"data_dir" yaml:"data_dir"`
	GCInterval time.Duration `koanf:"gc_interval" yaml:"gc_interval"`
	SyncWrites bool          `koanf:"sync_writes" yaml:"sync_writes"`
}

// SecuritySection holds secrets.
type SecuritySection struct {
	// EncryptionKey seals tenant tokens at rest. Without it tenants
	// cannot be registered.
	EncryptionKey string `koanf:"encryption_key" yaml:"encryption_key"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

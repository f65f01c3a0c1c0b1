package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/telemetry/logger"
)

// Verify validates the configuration and reports every problem found.
// It creates the badger data directory when missing.
func Verify(cfg *BridgeConfig) error {
	return errors.Join(
		verifyServer(&cfg.Server),
		verifyExchange(&cfg.Exchange),
		verifyRetry(&cfg.Retry),
		verifySync(&cfg.Sync),
		verifyStorage(&cfg.Storage),
		verifyLog(&cfg.Log),
	)
}

func verifyServer(cfg *ServerSection) error {
	var errs []error
	if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
		errs = append(errs, fmt.Errorf("server.http.addr: %w", err))
	}
	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.http: tls_cert_file and tls_key_file must be set together"))
	}
	for _, f := range []string{cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			errs = append(errs, fmt.Errorf("server.http: %w", err))
		}
	}
	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func verifyExchange(cfg *ExchangeSection) error {
	var errs []error
	if !domain.Environment(cfg.Environment).Valid() {
		errs = append(errs, fmt.Errorf("exchange.environment %q: want test, demo or prod", cfg.Environment))
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs = append(errs, fmt.Errorf("exchange.base_url %q is not an http(s) URL", cfg.BaseURL))
		}
	}
	if cfg.CAFile != "" {
		if _, err := os.Stat(cfg.CAFile); err != nil {
			errs = append(errs, fmt.Errorf("exchange.ca_file: %w", err))
		}
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, errors.New("exchange.timeout must be positive"))
	}
	if cfg.Form.SystemCode == "" || cfg.Form.SchemaVersion == "" || cfg.Form.Value == "" {
		errs = append(errs, errors.New("exchange.form: system_code, schema_version and value are required"))
	}
	for name, p := range map[string]PollConfig{"auth": cfg.Auth, "session": cfg.Session} {
		if p.PollAttempts < 1 || p.PollInterval <= 0 {
			errs = append(errs, fmt.Errorf("exchange.%s: poll_attempts and poll_interval must be positive", name))
		}
	}
	if cfg.CertificateTTL <= 0 {
		errs = append(errs, errors.New("exchange.certificate_ttl must be positive"))
	}
	return errors.Join(errs...)
}

func verifyRetry(cfg *RetrySection) error {
	var errs []error
	if cfg.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if cfg.BaseDelay <= 0 || cfg.MaxDelay < cfg.BaseDelay {
		errs = append(errs, errors.New("retry: need 0 < base_delay <= max_delay"))
	}
	if cfg.RequestsPerSecond <= 0 || cfg.Burst < 1 {
		errs = append(errs, errors.New("retry: requests_per_second and burst must be positive"))
	}
	return errors.Join(errs...)
}

func verifySync(cfg *SyncSection) error {
	var errs []error
	if cfg.Enabled && cfg.Interval <= 0 {
		errs = append(errs, errors.New("sync.interval must be positive when sync is enabled"))
	}
	if cfg.Concurrency < 1 || cfg.BatchSize < 1 {
		errs = append(errs, errors.New("sync: concurrency and batch_size must be at least 1"))
	}
	if cfg.BatchDelay < 0 {
		errs = append(errs, errors.New("sync.batch_delay must not be negative"))
	}
	if len(cfg.SubjectTypes) == 0 {
		errs = append(errs, errors.New("sync.subject_types must not be empty"))
	}
	for _, s := range cfg.SubjectTypes {
		if !domain.SubjectType(s).Valid() {
			errs = append(errs, fmt.Errorf("sync.subject_types: unknown subject %q", s))
		}
	}
	if cfg.InitialLookback <= 0 {
		errs = append(errs, errors.New("sync.initial_lookback must be positive"))
	}
	if cfg.MaxWindow <= 0 || cfg.MaxWindow > MaxQueryWindow {
		errs = append(errs, fmt.Errorf("sync.max_window must be in (0, %s]", MaxQueryWindow))
	}
	if cfg.PageSize < 1 || cfg.PageSize > MaxPageSize {
		errs = append(errs, fmt.Errorf("sync.page_size must be in [1, %d]", MaxPageSize))
	}
	return errors.Join(errs...)
}

func verifyStorage(cfg *StorageSection) error {
	switch cfg.Engine {
	case "memory":
		return nil
	case "badger":
	default:
		return fmt.Errorf("storage.engine %q: want badger or memory", cfg.Engine)
	}

	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("cannot create data directory: %w", err)
	}
	if cfg.GCInterval <= 0 {
		return errors.New("storage.gc_interval must be positive")
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	var errs []error
	if !logger.ValidLevel(cfg.Level) {
		errs = append(errs, fmt.Errorf("log.level %q: want debug, info, warn or error", cfg.Level))
	}
	if cfg.Format != "json" && cfg.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format %q: want json or text", cfg.Format))
	}
	return errors.Join(errs...)
}

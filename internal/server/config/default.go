package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr        = "127.0.0.1:5380"
	DefaultShutdownTimeout = 30 * time.Second

	DefaultEnvironment    = "test"
	DefaultTimeout        = 30 * time.Second
	DefaultPollAttempts   = 30
	DefaultPollInterval   = 2 * time.Second
	DefaultCertificateTTL = time.Hour

	DefaultMaxAttempts       = 5
	DefaultBaseDelay         = 500 * time.Millisecond
	DefaultMaxDelay          = 30 * time.Second
	DefaultRequestsPerSecond = 5.0
	DefaultBurst             = 5

	DefaultSyncInterval    = 15 * time.Minute
	DefaultSyncConcurrency = 3
	DefaultBatchSize       = 5
	DefaultBatchDelay      = 5 * time.Second
	DefaultInitialLookback = 30 * 24 * time.Hour
	// MaxQueryWindow is the widest date range the Exchange accepts.
	MaxQueryWindow  = 90 * 24 * time.Hour
	DefaultPageSize = 100
	MaxPageSize     = 250

	DefaultEngine     = "badger"
	DefaultDataDir    = "/var/lib/ksefbridge/data"
	DefaultGCInterval = 10 * time.Minute

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default configuration.
func Default() *BridgeConfig {
	return &BridgeConfig{
		Server: ServerSection{
			HTTP:            HTTPConfig{Addr: DefaultHTTPAddr},
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Exchange: ExchangeSection{
			Environment:    DefaultEnvironment,
			Timeout:        DefaultTimeout,
			Form:           FormConfig{SystemCode: "FA (3)", SchemaVersion: "1-0E", Value: "FA"},
			Auth:           PollConfig{PollAttempts: DefaultPollAttempts, PollInterval: DefaultPollInterval},
			Session:        PollConfig{PollAttempts: DefaultPollAttempts, PollInterval: DefaultPollInterval},
			CertificateTTL: DefaultCertificateTTL,
		},
		Retry: RetrySection{
			MaxAttempts:       DefaultMaxAttempts,
			BaseDelay:         DefaultBaseDelay,
			MaxDelay:          DefaultMaxDelay,
			RequestsPerSecond: DefaultRequestsPerSecond,
			Burst:             DefaultBurst,
		},
		Sync: SyncSection{
			Enabled:         true,
			Interval:        DefaultSyncInterval,
			Concurrency:     DefaultSyncConcurrency,
			BatchSize:       DefaultBatchSize,
			BatchDelay:      DefaultBatchDelay,
			SubjectTypes:    []string{"Subject1", "Subject2"},
			InitialLookback: DefaultInitialLookback,
			MaxWindow:       MaxQueryWindow,
			PageSize:        DefaultPageSize,
			DownloadContent: true,
		},
		Storage: StorageSection{
			Engine:     DefaultEngine,
			DataDir:    DefaultDataDir,
			GCInterval: DefaultGCInterval,
			SyncWrites: true,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

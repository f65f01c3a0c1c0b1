package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/common-nighthawk/go-figure"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/core/service"
	"github.com/yndnr/ksefbridge-go/internal/exchange"
	"github.com/yndnr/ksefbridge-go/internal/exchange/auth"
	"github.com/yndnr/ksefbridge-go/internal/exchange/certs"
	"github.com/yndnr/ksefbridge-go/internal/exchange/governor"
	"github.com/yndnr/ksefbridge-go/internal/infra/buildinfo"
	"github.com/yndnr/ksefbridge-go/internal/infra/confloader"
	"github.com/yndnr/ksefbridge-go/internal/infra/shutdown"
	"github.com/yndnr/ksefbridge-go/internal/infra/tlsroots"
	"github.com/yndnr/ksefbridge-go/internal/scheduler"
	"github.com/yndnr/ksefbridge-go/internal/server/config"
	"github.com/yndnr/ksefbridge-go/internal/server/httpserver"
	"github.com/yndnr/ksefbridge-go/internal/server/httpserver/handler"
	"github.com/yndnr/ksefbridge-go/internal/storage"
	"github.com/yndnr/ksefbridge-go/internal/storage/memory"
	"github.com/yndnr/ksefbridge-go/internal/telemetry/logger"
	"github.com/yndnr/ksefbridge-go/internal/telemetry/metric"
	"github.com/yndnr/ksefbridge-go/pkg/crypto/sealed"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("ksefbridge-server " + buildinfo.String())
		return nil
	}

	loader := newLoader(*configFile)
	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Verify(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := initLogger(cfg)
	log.Info("starting ksefbridge-server",
		"version", buildinfo.Get().Version,
		"commit", buildinfo.Get().Commit,
		"config", *configFile)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	registry := metric.NewRegistry()
	live := metric.NewCollector()
	if err := registry.Registerer().Register(live); err != nil {
		return fmt.Errorf("register live metrics: %w", err)
	}

	kv, err := initStorage(cfg, log, registry)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	shutdownHandler := shutdown.NewHandler(cfg.Server.ShutdownTimeout, log)
	shutdownHandler.OnShutdown("storage", func(context.Context) error {
		return kv.Close()
	})

	svc, err := initServices(cfg, kv, registry, live, log)
	if err != nil {
		_ = kv.Close()
		return fmt.Errorf("init services: %w", err)
	}

	if cfg.Sync.Enabled {
		svc.Scheduler.Start()
		log.Info("sync scheduler started", "interval", cfg.Sync.Interval, "concurrency", cfg.Sync.Concurrency)
	}
	shutdownHandler.OnShutdown("scheduler", svc.Scheduler.Stop)

	srv, err := initHTTP(cfg, kv, svc, registry, log, shutdownHandler)
	if err != nil {
		_ = shutdownHandler.Run()
		return fmt.Errorf("init http: %w", err)
	}
	if err := srv.Listen(); err != nil {
		_ = shutdownHandler.Run()
		return fmt.Errorf("listen %s: %w", cfg.Server.HTTP.Addr, err)
	}
	shutdownHandler.OnShutdown("http", srv.Shutdown)

	if loader.FilePath() != "" {
		if err := watchConfig(loader, log, shutdownHandler); err != nil {
			log.Warn("config watcher disabled", "error", err)
		}
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	go func() {
		if err := srv.Serve(); err != nil {
			log.Error("http server error", "error", err)
			cancel(err)
		}
	}()

	log.Info("server started", "addr", srv.Addr(), "sync_enabled", cfg.Sync.Enabled)
	if err := shutdownHandler.Wait(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("server stopped gracefully")
	return context.Cause(ctx)
}

func newLoader(configFile string) *confloader.Loader {
	opts := []confloader.Option{}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	return confloader.NewLoader(opts...)
}

// initLogger installs the redacting logger as the process default.
// The banner is printed for humans only.
func initLogger(cfg *config.BridgeConfig) *slog.Logger {
	if cfg.Log.Format == "text" {
		figure.NewFigure("ksefbridge", "cybermedium", true).Print()
		fmt.Println()
	}
	log := logger.NewSlog(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	logger.SetDefault(logger.Wrap(log))
	return log
}

func initStorage(cfg *config.BridgeConfig, log *slog.Logger, registry *metric.Registry) (storage.KVEngine, error) {
	if cfg.Storage.Engine == "memory" {
		log.Warn("memory storage engine: the submission ledger does not survive a restart")
		return memory.New(), nil
	}

	kvCfg := storage.DefaultKVConfig(cfg.Storage.DataDir)
	kvCfg.Badger.GCInterval = cfg.Storage.GCInterval.String()
	kvCfg.Badger.SyncWrites = cfg.Storage.SyncWrites
	engine, err := storage.NewBadgerEngine(kvCfg, log)
	if err != nil {
		return nil, err
	}
	return engine.RegisterMetrics(registry.Registerer()), nil
}

// Services holds the wired domain services.
type Services struct {
	Submissions *service.SubmissionService
	Duplicates  *service.DuplicateDetector
	Tenants     *service.TenantService
	Scheduler   *scheduler.Scheduler
}

func initServices(cfg *config.BridgeConfig, kv storage.KVEngine, registry *metric.Registry, live *metric.Collector, log *slog.Logger) (*Services, error) {
	roots, err := tlsroots.LoadRoots(cfg.Exchange.CAFile)
	if err != nil {
		return nil, fmt.Errorf("exchange.ca_file: %w", err)
	}
	if roots != nil {
		log.Info("extra exchange roots loaded", "path", cfg.Exchange.CAFile)
	}

	gov := governor.New(governor.Config{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BaseDelay:         cfg.Retry.BaseDelay,
		MaxDelay:          cfg.Retry.MaxDelay,
		RequestsPerSecond: cfg.Retry.RequestsPerSecond,
		Burst:             cfg.Retry.Burst,
	}, log).RegisterMetrics(registry.Registerer())

	defEnv := domain.Environment(cfg.Exchange.Environment)
	exchanges := service.NewExchanges(defEnv, func(env domain.Environment) (service.ExchangeAPI, error) {
		ccfg := exchange.Config{Environment: env, Timeout: cfg.Exchange.Timeout, RootCAs: roots}
		if env == defEnv {
			ccfg.BaseURL = cfg.Exchange.BaseURL
		}
		return exchange.NewClient(ccfg, gov, log)
	})

	keys := certs.NewStore(cfg.Exchange.CertificateTTL, log)
	tokens := auth.NewTokenCache(0, log)
	live.Add("token_cache_entries", "Cached Exchange token pairs.", func() float64 {
		return float64(tokens.Len())
	})

	var sealer *sealed.Sealer
	if cfg.Security.EncryptionKey != "" {
		if sealer, err = sealed.NewSealer(cfg.Security.EncryptionKey); err != nil {
			return nil, fmt.Errorf("security.encryption_key: %w", err)
		}
	} else {
		log.Warn("security.encryption_key is empty: tenants cannot be registered")
	}

	submissions := storage.NewSubmissionRepository(kv)
	tenantRepo := storage.NewTenantRepository(kv)
	cursors := storage.NewCursorRepository(kv)
	mirror := storage.NewMirrorRepository(kv)
	runs := storage.NewRunLog(kv)

	dedup := service.NewDuplicateDetector(submissions, log)
	tenants := service.NewTenantService(tenantRepo, cursors, sealer, defEnv, log)

	authOpts := auth.Options{
		PollAttempts: cfg.Exchange.Auth.PollAttempts,
		PollInterval: cfg.Exchange.Auth.PollInterval,
	}
	submitter := service.NewSubmissionService(exchanges, keys, tokens, dedup, service.SubmissionOptions{
		Form: domain.FormCode{
			SystemCode:    cfg.Exchange.Form.SystemCode,
			SchemaVersion: cfg.Exchange.Form.SchemaVersion,
			Value:         cfg.Exchange.Form.Value,
		},
		Auth:                authOpts,
		SessionPollAttempts: cfg.Exchange.Session.PollAttempts,
		SessionPollInterval: cfg.Exchange.Session.PollInterval,
	}, log)

	subjects := make([]domain.SubjectType, 0, len(cfg.Sync.SubjectTypes))
	for _, s := range cfg.Sync.SubjectTypes {
		subjects = append(subjects, domain.SubjectType(s))
	}
	syncer := service.NewSyncService(exchanges, keys, tokens, tenants, cursors, mirror, service.SyncOptions{
		SubjectTypes:    subjects,
		InitialLookback: cfg.Sync.InitialLookback,
		MaxWindow:       cfg.Sync.MaxWindow,
		PageSize:        cfg.Sync.PageSize,
		DownloadContent: cfg.Sync.DownloadContent,
		Auth:            authOpts,
	}, log)

	sched := scheduler.New(scheduler.Config{
		Enabled:     cfg.Sync.Enabled,
		Interval:    cfg.Sync.Interval,
		Concurrency: cfg.Sync.Concurrency,
		BatchSize:   cfg.Sync.BatchSize,
		BatchDelay:  cfg.Sync.BatchDelay,
	}, tenants, syncer, runs, log)
	if err := sched.RegisterMetrics(registry.Registerer()); err != nil {
		return nil, fmt.Errorf("register scheduler metrics: %w", err)
	}
	live.Add("sync_running", "1 while a sync run is in progress.", func() float64 {
		if sched.Running() {
			return 1
		}
		return 0
	})

	log.Info("services initialized", "environment", defEnv, "subjects", cfg.Sync.SubjectTypes)
	return &Services{
		Submissions: submitter,
		Duplicates:  dedup,
		Tenants:     tenants,
		Scheduler:   sched,
	}, nil
}

func initHTTP(cfg *config.BridgeConfig, kv storage.KVEngine, svc *Services, registry *metric.Registry, log *slog.Logger, sh *shutdown.Handler) (*httpserver.Server, error) {
	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Handler: handler.Config{
			Submissions: svc.Submissions,
			Duplicates:  svc.Duplicates,
			Sync:        svc.Scheduler,
			Tenants:     svc.Tenants,
			Ready: func(ctx context.Context) error {
				_, err := kv.Stats(ctx)
				return err
			},
		},
		APIKeyHash:          cfg.Server.HTTP.APIKeyHash,
		Metrics:             registry,
		MetricsAuthRequired: cfg.Server.HTTP.APIKeyHash != "",
		Logger:              log,
	})
	if cfg.Server.HTTP.APIKeyHash == "" {
		log.Warn("server.http.api_key_hash is empty: the API is not authenticated")
	}

	if !cfg.Server.HTTP.TLSEnabled() {
		return httpserver.New(cfg.Server.HTTP.Addr, router, nil, log), nil
	}

	certWatcher, err := tlsroots.NewWatcher(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile, tlsroots.WithLogger(log))
	if err != nil {
		return nil, err
	}
	certWatcher.StartAsync()
	sh.OnShutdown("tls-watcher", func(context.Context) error {
		certWatcher.Stop()
		return nil
	})
	return httpserver.New(cfg.Server.HTTP.Addr, router, certWatcher.ServerTLSConfig(), log), nil
}

// watchConfig applies log level changes without a restart. Other settings
// need one.
func watchConfig(loader *confloader.Loader, log *slog.Logger, sh *shutdown.Handler) error {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return err
	}
	if err := w.Watch(loader.FilePath()); err != nil {
		_ = w.Stop()
		return err
	}
	w.OnChange(func(path string) {
		next := config.Default()
		if err := loader.Reload(next); err != nil {
			log.Warn("config reload failed", "file", path, "error", err)
			return
		}
		if !logger.ValidLevel(next.Log.Level) {
			log.Warn("config reload ignored invalid log level", "level", next.Log.Level)
			return
		}
		if next.Log.Level != logger.GetLevel() {
			logger.SetLevel(next.Log.Level)
			log.Info("log level changed", "level", next.Log.Level)
		}
	})
	w.StartAsync()
	sh.OnShutdown("config-watcher", func(context.Context) error {
		return w.Stop()
	})
	return nil
}

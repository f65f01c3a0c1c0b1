package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

// Config controls the scheduler.
type Config struct {
	Enabled     bool          `koanf:"enabled"`
	Interval    time.Duration `koanf:"interval"`
	Concurrency int           `koanf:"concurrency"`
	BatchSize   int           `koanf:"batch_size"`
	BatchDelay  time.Duration `koanf:"batch_delay"`
}

// DefaultConfig syncs every 15 minutes, three tenants at a time.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Interval:    15 * time.Minute,
		Concurrency: 3,
		BatchSize:   5,
		BatchDelay:  5 * time.Second,
	}
}

// TenantSource lists tenants to sync.
type TenantSource interface {
	Get(ctx context.Context, id string) (*domain.Tenant, error)
	List(ctx context.Context, activeOnly bool) ([]*domain.Tenant, error)
}

// TenantSyncer syncs one tenant. *service.SyncService implements it.
type TenantSyncer interface {
	SyncTenant(ctx context.Context, runID string, t *domain.Tenant) *domain.SyncRunResult
}

// RunStore is the write-once run log.
type RunStore interface {
	Append(ctx context.Context, result *domain.SyncRunResult) error
	List(ctx context.Context, tenantID string, limit int) ([]*domain.SyncRunResult, error)
}

// Scheduler drives tenant syncs.
type Scheduler struct {
	cfg     Config
	tenants TenantSource
	syncer  TenantSyncer
	runs    RunStore
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	running atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}

	runsTotal   *prometheus.CounterVec
	documents   *prometheus.CounterVec
	runDuration prometheus.Histogram
	lastRun     prometheus.Gauge
}

// New creates a scheduler. Start begins the periodic loop; RunOnce may be
// used without it.
func New(cfg Config, tenants TenantSource, syncer TenantSyncer, runs RunStore, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}

	return &Scheduler{
		cfg:     cfg,
		tenants: tenants,
		syncer:  syncer,
		runs:    runs,
		logger:  logger.With("component", "scheduler"),
		sleep:   sleep,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ksefbridge_sync_runs_total",
			Help: "Tenant sync runs by outcome.",
		}, []string{"outcome"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ksefbridge_sync_documents_total",
			Help: "Newly mirrored documents by subject type.",
		}, []string{"subject"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ksefbridge_sync_run_duration_seconds",
			Help:    "Duration of a scheduler run across all tenants.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ksefbridge_sync_last_run_timestamp_seconds",
			Help: "Unix time the last scheduler run finished.",
		}),
	}
}

// RegisterMetrics registers the scheduler metrics with reg.
func (s *Scheduler) RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{s.runsTotal, s.documents, s.runDuration, s.lastRun} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register scheduler metrics: %w", err)
		}
	}
	return nil
}

// Start runs the periodic loop in the background until Stop is called.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("sync scheduler started",
			"interval", s.cfg.Interval,
			"concurrency", s.cfg.Concurrency,
			"batch_size", s.cfg.BatchSize)
		go s.loop()
	})
}

// Stop ends the loop and waits for an in-flight run to finish or the
// context to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	// Never started: nothing to wait for.
	s.startOnce.Do(func() { close(s.doneCh) })

	select {
	case <-s.doneCh:
		s.logger.Info("sync scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ticker.C:
			_, err := s.RunOnce(ctx, "")
			switch {
			case err == nil, ctx.Err() != nil:
			case errors.Is(err, domain.ErrSyncInProgress):
				s.logger.Info("skipping scheduled sync, previous run still active")
			default:
				s.logger.Error("scheduled sync failed", "error", err)
			}
		case <-s.stopCh:
			return
		}
	}
}

// RunManualSync runs a sync immediately, for one tenant when tenantID is
// set and for every active tenant otherwise.
func (s *Scheduler) RunManualSync(ctx context.Context, tenantID string) ([]*domain.SyncRunResult, error) {
	return s.RunOnce(ctx, tenantID)
}

// RunOnce performs one run. Overlapping runs fail with
// domain.ErrSyncInProgress. A failing tenant never aborts the run; its
// errors are in its result.
func (s *Scheduler) RunOnce(ctx context.Context, tenantID string) ([]*domain.SyncRunResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, domain.ErrSyncInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	defer func() {
		s.runDuration.Observe(time.Since(start).Seconds())
		s.lastRun.SetToCurrentTime()
	}()

	// 1. Load tenants
	tenants, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(tenants) == 0 {
		s.logger.Debug("no active tenants to sync")
		return nil, nil
	}

	// 2. Batches, sequential with a pause between them
	results := make([]*domain.SyncRunResult, 0, len(tenants))
	for i := 0; i < len(tenants); i += s.cfg.BatchSize {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.BatchDelay); err != nil {
				return results, err
			}
		}
		end := min(i+s.cfg.BatchSize, len(tenants))
		results = append(results, s.runBatch(ctx, tenants[i:end])...)
	}

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	s.logger.Info("sync run finished",
		"tenants", len(results),
		"failed", failed,
		"duration", time.Since(start))
	return results, nil
}

// Runs returns logged runs of a tenant, newest first.
func (s *Scheduler) Runs(ctx context.Context, tenantID string, limit int) ([]*domain.SyncRunResult, error) {
	return s.runs.List(ctx, tenantID, limit)
}

// Running reports whether a run is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) load(ctx context.Context, tenantID string) ([]*domain.Tenant, error) {
	if tenantID == "" {
		return s.tenants.List(ctx, true)
	}
	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, domain.ErrInvalidArgument.WithDetails("tenant " + tenantID + " is not active")
	}
	return []*domain.Tenant{t}, nil
}

func (s *Scheduler) runBatch(ctx context.Context, batch []*domain.Tenant) []*domain.SyncRunResult {
	results := make([]*domain.SyncRunResult, len(batch))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, t := range batch {
		g.Go(func() error {
			results[i] = s.syncTenant(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Scheduler) syncTenant(ctx context.Context, t *domain.Tenant) (result *domain.SyncRunResult) {
	runID, err := domain.NewID(domain.RunIDPrefix)
	if err != nil {
		result = domain.NewSyncRunResult("", t.ID)
		result.AddError("", err)
		return result
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tenant sync panicked", "tenant_id", t.ID, "run_id", runID, "panic", r)
			result = domain.NewSyncRunResult(runID, t.ID)
			result.AddError("", domain.ErrInternal.WithDetails(fmt.Sprint(r)))
			result.FinishedAt = time.Now().UTC()
		}
		s.record(ctx, result)
	}()

	return s.syncer.SyncTenant(ctx, runID, t)
}

// record persists result even when ctx is already cancelled.
func (s *Scheduler) record(ctx context.Context, result *domain.SyncRunResult) {
	outcome := "success"
	if result.Failed() {
		outcome = "failed"
	}
	s.runsTotal.WithLabelValues(outcome).Inc()
	for subject, n := range result.PerSubjectCounts {
		s.documents.WithLabelValues(string(subject)).Add(float64(n))
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.runs.Append(writeCtx, result); err != nil {
		s.logger.Error("failed to write run log", "tenant_id", result.TenantID, "run_id", result.RunID, "error", err)
	}

	logger := s.logger.With("tenant_id", result.TenantID, "run_id", result.RunID)
	if result.Failed() {
		logger.Warn("tenant sync finished with errors", "stored", result.Total(), "errors", len(result.Errors))
		return
	}
	logger.Info("tenant sync finished", "stored", result.Total())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

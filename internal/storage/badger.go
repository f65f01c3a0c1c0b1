package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
)

// conflictRetries bounds how often a write transaction is replayed after
// badger reports a conflict with a concurrent writer.
const conflictRetries = 5

// BadgerEngine implements KVEngine using Badger v3.
type BadgerEngine struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger

	// Metrics (internal counters)
	lastGCTime       atomic.Int64  // Unix milliseconds
	gcBytesReclaimed atomic.Uint64 // Total bytes reclaimed by GC
	closed           atomic.Bool

	// Prometheus metrics
	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsTotalSize    prometheus.Gauge
	metricsLastGCTime   prometheus.Gauge
	metricsGCReclaimed  prometheus.Counter
	metricsConflicts    prometheus.Counter

	// Shutdown
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewBadgerEngine creates a new Badger-based KV engine.
func NewBadgerEngine(cfg KVConfig, logger *slog.Logger) (*BadgerEngine, error) {
	badgerCfg := cfg.Badger
	if cfg.Dir == "" && !badgerCfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if badgerCfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger}
	opts.BlockCacheSize = badgerCfg.CacheSize
	if badgerCfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = badgerCfg.ValueLogFileSize
	}
	if badgerCfg.NumMemtables > 0 {
		opts.NumMemtables = badgerCfg.NumMemtables
	}
	opts.SyncWrites = badgerCfg.SyncWrites
	opts.DetectConflicts = badgerCfg.DetectConflicts

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	engine := &BadgerEngine{
		db:     db,
		cfg:    badgerCfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	if !badgerCfg.InMemory {
		engine.wg.Add(1)
		go engine.gcLoop()
	}

	logger.Info("badger engine started",
		"dir", cfg.Dir,
		"in_memory", badgerCfg.InMemory,
		"sync_writes", badgerCfg.SyncWrites,
		"gc_interval", badgerCfg.GCInterval)

	return engine, nil
}

// Get retrieves a value by key.
func (e *BadgerEngine) Get(ctx context.Context, key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	var value []byte

	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		return nil, err
	}

	return value, nil
}

// Set stores a key-value pair.
func (e *BadgerEngine) Set(ctx context.Context, key, value []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Insert stores value only if key is absent.
func (e *BadgerEngine) Insert(ctx context.Context, key, value []byte) error {
	return e.Update(ctx, key, func(_ []byte, exists bool) ([]byte, error) {
		if exists {
			return nil, ErrKeyExists
		}
		return value, nil
	})
}

// Update runs fn inside a read-write transaction. On a badger conflict the
// transaction is replayed, so fn observes the value committed by the
// concurrent writer and can decide again.
func (e *BadgerEngine) Update(ctx context.Context, key []byte, fn UpdateFunc) error {
	if e.closed.Load() {
		return ErrClosed
	}

	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err = e.db.Update(func(txn *badger.Txn) error {
			var current []byte
			exists := true
			item, err := txn.Get(key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				exists = false
			case err != nil:
				return err
			default:
				if current, err = item.ValueCopy(nil); err != nil {
					return err
				}
			}

			next, err := fn(current, exists)
			if err != nil {
				return err
			}
			if next == nil {
				if !exists {
					return nil
				}
				return txn.Delete(key)
			}
			return txn.Set(key, next)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if e.metricsConflicts != nil {
			e.metricsConflicts.Inc()
		}
		e.logger.Debug("badger transaction conflict, retrying", "attempt", attempt+1)
	}
	return fmt.Errorf("%w: %v", ErrConflict, err)
}

// Delete removes a key.
func (e *BadgerEngine) Delete(ctx context.Context, key []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Scan iterates over keys with a given prefix.
func (e *BadgerEngine) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := item.KeyCopy(nil)
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			if !fn(key, value) {
				break
			}
		}

		return nil
	})
}

// GC triggers value log garbage collection.
// Returns bytes reclaimed (approximate).
func (e *BadgerEngine) GC(ctx context.Context) (uint64, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	startTime := time.Now()

	var totalReclaimed uint64
	for ctx.Err() == nil {
		err := e.db.RunValueLogGC(e.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) ||
				errors.Is(err, badger.ErrGCInMemoryMode) {
				break
			}
			return totalReclaimed, fmt.Errorf("gc: %w", err)
		}

		// Badger does not report reclaimed bytes; count one value log file.
		totalReclaimed += uint64(e.db.Opts().ValueLogFileSize)
	}

	e.lastGCTime.Store(time.Now().UnixMilli())
	e.gcBytesReclaimed.Add(totalReclaimed)
	if e.metricsGCReclaimed != nil {
		e.metricsGCReclaimed.Add(float64(totalReclaimed))
	}

	e.logger.Debug("gc completed",
		"bytes_reclaimed", totalReclaimed,
		"elapsed", time.Since(startTime))

	return totalReclaimed, nil
}

// Stats returns storage statistics.
func (e *BadgerEngine) Stats(ctx context.Context) (*KVStats, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	lsm, vlog := e.db.Size()

	return &KVStats{
		TotalSize:        uint64(lsm + vlog),
		LSMSize:          uint64(lsm),
		ValueLogSize:     uint64(vlog),
		LastGCTime:       e.lastGCTime.Load(),
		GCBytesReclaimed: e.gcBytesReclaimed.Load(),
	}, nil
}

// Close gracefully shuts down the Badger engine.
func (e *BadgerEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.logger.Info("shutting down badger engine")
		e.closed.Store(true)
		close(e.stopCh)
		e.wg.Wait()

		if cerr := e.db.Close(); cerr != nil {
			err = fmt.Errorf("close db: %w", cerr)
			return
		}
		e.logger.Info("badger engine shutdown complete")
	})
	return err
}

// RegisterMetrics registers Badger metrics with Prometheus.
//
// This should be called once during initialization.
// Returns the engine for method chaining.
func (e *BadgerEngine) RegisterMetrics(registry prometheus.Registerer) *BadgerEngine {
	e.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ksefbridge",
		Subsystem: "badger",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes",
	})

	e.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ksefbridge",
		Subsystem: "badger",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes",
	})

	e.metricsTotalSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ksefbridge",
		Subsystem: "badger",
		Name:      "total_size_bytes",
		Help:      "Badger total storage size in bytes (LSM + value log)",
	})

	e.metricsLastGCTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ksefbridge",
		Subsystem: "badger",
		Name:      "last_gc_timestamp_seconds",
		Help:      "Unix timestamp of the last Badger GC run",
	})

	e.metricsGCReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ksefbridge",
		Subsystem: "badger",
		Name:      "gc_bytes_reclaimed_total",
		Help:      "Approximate bytes reclaimed by Badger garbage collection",
	})

	e.metricsConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ksefbridge",
		Subsystem: "badger",
		Name:      "txn_conflicts_total",
		Help:      "Write transactions replayed after a conflict",
	})

	registry.MustRegister(
		e.metricsLSMSize,
		e.metricsValueLogSize,
		e.metricsTotalSize,
		e.metricsLastGCTime,
		e.metricsGCReclaimed,
		e.metricsConflicts,
	)

	e.wg.Add(1)
	go e.metricsUpdateLoop()

	return e
}

// metricsUpdateLoop periodically updates the size gauges.
func (e *BadgerEngine) metricsUpdateLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := e.Stats(context.Background())
			if err != nil {
				continue
			}

			e.metricsLSMSize.Set(float64(stats.LSMSize))
			e.metricsValueLogSize.Set(float64(stats.ValueLogSize))
			e.metricsTotalSize.Set(float64(stats.TotalSize))
			if stats.LastGCTime > 0 {
				e.metricsLastGCTime.Set(float64(stats.LastGCTime) / 1000.0)
			}

		case <-e.stopCh:
			return
		}
	}
}

// gcLoop runs periodic garbage collection.
func (e *BadgerEngine) gcLoop() {
	defer e.wg.Done()

	interval, err := time.ParseDuration(e.cfg.GCInterval)
	if err != nil || interval <= 0 {
		e.logger.Error("invalid gc_interval, using default 10m", "value", e.cfg.GCInterval)
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := e.GC(ctx); err != nil {
				e.logger.Error("auto gc failed", "error", err)
			}
			cancel()

		case <-e.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

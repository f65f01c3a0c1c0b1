package storage

import (
	"context"
	"errors"
)

// Common errors.
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrKeyExists   = errors.New("key already exists")
	ErrConflict    = errors.New("transaction conflict")
	ErrClosed      = errors.New("kv engine closed")
)

// UpdateFunc computes the new value for a key from its current value.
// Returning a nil value deletes the key; returning an error aborts the
// update without writing.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// KVEngine is the embedded key-value storage used by the repositories.
//
// Implementations must be safe for concurrent use. Insert and Update are
// atomic with respect to each other and to concurrent writers of the same
// key.
type KVEngine interface {
	// Get retrieves a value by key.
	// Returns ErrKeyNotFound if key doesn't exist.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Set stores a key-value pair.
	Set(ctx context.Context, key, value []byte) error

	// Insert stores value only if key is absent.
	// Returns ErrKeyExists otherwise.
	Insert(ctx context.Context, key, value []byte) error

	// Update runs fn as a read-modify-write transaction on key.
	Update(ctx context.Context, key []byte, fn UpdateFunc) error

	// Delete removes a key.
	Delete(ctx context.Context, key []byte) error

	// Scan iterates in key order over keys with a given prefix.
	// Callback returns false to stop iteration.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error

	// GC triggers garbage collection (for LSM-based engines like Badger).
	// Returns bytes reclaimed.
	GC(ctx context.Context) (uint64, error)

	// Stats returns storage statistics.
	Stats(ctx context.Context) (*KVStats, error)

	// Close gracefully shuts down the engine.
	Close() error
}

// KVStats contains storage engine statistics.
type KVStats struct {
	// TotalKeys is the number of keys, when the engine can count cheaply.
	TotalKeys uint64

	// TotalSize is the total disk usage in bytes.
	TotalSize uint64

	// LSMSize is the LSM tree size (for Badger).
	LSMSize uint64

	// ValueLogSize is the value log size (for Badger).
	ValueLogSize uint64

	// LastGCTime is the last GC run timestamp (Unix milliseconds).
	LastGCTime int64

	// GCBytesReclaimed is the total bytes reclaimed by GC.
	GCBytesReclaimed uint64
}

// KVConfig configures an embedded KV engine.
type KVConfig struct {
	// Engine specifies the KV engine type ("badger", "memory").
	// Default: "badger"
	Engine string

	// Dir is the storage directory.
	Dir string

	// Badger-specific configuration
	Badger BadgerConfig
}

// BadgerConfig contains Badger-specific tuning parameters.
type BadgerConfig struct {
	// GCInterval is the interval between automatic GC runs.
	// Default: 10m
	GCInterval string

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 64MB
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 256MB
	ValueLogFileSize int64

	// NumMemtables is the number of memtables.
	// Default: 2
	NumMemtables int

	// SyncWrites enables fsync after each write.
	// Default: true; the submission ledger must survive a crash.
	SyncWrites bool

	// DetectConflicts enables transaction conflict detection.
	// Default: true; Insert and Update rely on it.
	DetectConflicts bool

	// InMemory runs Badger without touching disk (tests).
	InMemory bool
}

// DefaultKVConfig returns the default KV configuration.
func DefaultKVConfig(dir string) KVConfig {
	return KVConfig{
		Engine: "badger",
		Dir:    dir,
		Badger: DefaultBadgerConfig(),
	}
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:       "10m",
		GCThreshold:      0.5,
		CacheSize:        64 << 20,  // 64MB
		ValueLogFileSize: 256 << 20, // 256MB
		NumMemtables:     2,
		SyncWrites:       true,
		DetectConflicts:  true,
	}
}

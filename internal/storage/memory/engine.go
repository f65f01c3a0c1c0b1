// Package memory provides an in-memory storage.KVEngine.
//
// It holds all data in a sharded concurrent map and loses it on exit. It is
// used by tests and by deployments with storage.engine set to "memory".
package memory

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/yndnr/ksefbridge-go/internal/storage"
	"github.com/yndnr/ksefbridge-go/pkg/cmap"
)

// Engine is an in-memory KV engine.
type Engine struct {
	data   *cmap.Map[[]byte]
	closed atomic.Bool
}

var _ storage.KVEngine = (*Engine)(nil)

// New creates an empty engine.
func New() *Engine {
	return &Engine{data: cmap.New[[]byte]()}
}

// Get retrieves a copy of the value under key.
func (e *Engine) Get(_ context.Context, key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, storage.ErrClosed
	}
	v, ok := e.data.Get(string(key))
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

// Set stores a copy of value.
func (e *Engine) Set(_ context.Context, key, value []byte) error {
	if e.closed.Load() {
		return storage.ErrClosed
	}
	e.data.Set(string(key), bytes.Clone(value))
	return nil
}

// Insert stores value only if key is absent.
func (e *Engine) Insert(_ context.Context, key, value []byte) error {
	if e.closed.Load() {
		return storage.ErrClosed
	}
	if !e.data.SetIfAbsent(string(key), bytes.Clone(value)) {
		return storage.ErrKeyExists
	}
	return nil
}

// Update runs fn atomically under the key's shard lock.
func (e *Engine) Update(_ context.Context, key []byte, fn storage.UpdateFunc) error {
	if e.closed.Load() {
		return storage.ErrClosed
	}
	return e.data.Compute(string(key), func(old []byte, exists bool) ([]byte, bool, error) {
		next, err := fn(bytes.Clone(old), exists)
		if err != nil {
			return nil, false, err
		}
		if next == nil {
			return nil, false, nil
		}
		return bytes.Clone(next), true, nil
	})
}

// Delete removes a key.
func (e *Engine) Delete(_ context.Context, key []byte) error {
	if e.closed.Load() {
		return storage.ErrClosed
	}
	e.data.Delete(string(key))
	return nil
}

// Scan visits keys with prefix in ascending order.
func (e *Engine) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	if e.closed.Load() {
		return storage.ErrClosed
	}

	p := string(prefix)
	type kv struct {
		key   string
		value []byte
	}
	var matched []kv
	e.data.Range(func(k string, v []byte) bool {
		if strings.HasPrefix(k, p) {
			matched = append(matched, kv{k, bytes.Clone(v)})
		}
		return true
	})
	sort.Slice(matched, func(i, j int) bool { return matched[i].key < matched[j].key })

	for _, m := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn([]byte(m.key), m.value) {
			break
		}
	}
	return nil
}

// GC is a no-op.
func (e *Engine) GC(context.Context) (uint64, error) {
	return 0, nil
}

// Stats reports the key count and the summed value size.
func (e *Engine) Stats(context.Context) (*storage.KVStats, error) {
	var size uint64
	e.data.Range(func(k string, v []byte) bool {
		size += uint64(len(k) + len(v))
		return true
	})
	return &storage.KVStats{
		TotalKeys: uint64(e.data.Count()),
		TotalSize: size,
	}, nil
}

// Close drops all data.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.data.Clear()
	return nil
}

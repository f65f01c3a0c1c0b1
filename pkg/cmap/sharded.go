package cmap

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShardCount is the default number of shards.
const DefaultShardCount = 16

// Map is a concurrent-safe sharded map.
type Map[V any] struct {
	shards []*shard[V]
	mask   uint32
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// New creates a map with the default shard count.
func New[V any]() *Map[V] {
	return NewWithShards[V](DefaultShardCount)
}

// NewWithShards creates a map with shardCount shards.
// A shardCount that is not a positive power of 2 falls back to the default.
func NewWithShards[V any](shardCount int) *Map[V] {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		shardCount = DefaultShardCount
	}

	m := &Map[V]{
		shards: make([]*shard[V], shardCount),
		mask:   uint32(shardCount - 1),
	}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return m.shards[murmur3.Sum32([]byte(key))&m.mask]
}

// Get retrieves a value by key.
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Set stores a value.
func (m *Map[V]) Set(key string, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
}

// Delete removes a key and reports whether it existed.
func (m *Map[V]) Delete(key string) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	delete(s.items, key)
	return ok
}

// SetIfAbsent stores value only if key is absent and reports whether it did.
func (m *Map[V]) SetIfAbsent(key string, value V) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = value
	return true
}

// Compute atomically replaces the value under key with the result of fn.
// When fn returns keep=false the key is removed; when it returns an error
// the map is left unchanged and the error is returned.
func (m *Map[V]) Compute(key string, fn func(old V, exists bool) (value V, keep bool, err error)) error {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.items[key]
	value, keep, err := fn(old, exists)
	if err != nil {
		return err
	}
	if keep {
		s.items[key] = value
	} else {
		delete(s.items, key)
	}
	return nil
}

// Range calls fn for every entry until fn returns false.
func (m *Map[V]) Range(fn func(key string, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Count returns the number of entries.
func (m *Map[V]) Count() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Clear removes all entries.
func (m *Map[V]) Clear() {
	for _, s := range m.shards {
		s.mu.Lock()
		s.items = make(map[string]V)
		s.mu.Unlock()
	}
}

// ShardCount returns the number of shards.
func (m *Map[V]) ShardCount() int {
	return len(m.shards)
}

// Package cmap provides a concurrent-safe sharded map keyed by strings.
//
// Keys are spread over a power-of-two number of shards by their murmur3
// hash; each shard has its own RWMutex. Single-key operations (Get, Set,
// SetIfAbsent, Compute) are atomic. Range visits shards one at a time, so it
// does not observe a consistent snapshot across shards.
//
// Usage:
//
//	m := cmap.New[*Entry]()
//	m.Set("tenant/kbtn-1", e)
//	v, ok := m.Get("tenant/kbtn-1")
package cmap

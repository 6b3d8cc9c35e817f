// Package cmap provides a concurrent map sharded by string keys.
package cmap

import (
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShards is used when New is given a non power of two.
const DefaultShards = 16

// Map is a concurrent map. Each shard has its own lock, so writers to
// different keys rarely contend.
type Map[K ~string, V any] struct {
	shards []shard[K, V]
	mask   uint32
}

type shard[K ~string, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// New creates a map with n shards. n must be a power of two.
func New[K ~string, V any](n int) *Map[K, V] {
	if n <= 0 || n&(n-1) != 0 {
		n = DefaultShards
	}
	m := &Map[K, V]{shards: make([]shard[K, V], n), mask: uint32(n - 1)}
	for i := range m.shards {
		m.shards[i].items = make(map[K]V)
	}
	return m
}

// shard hashes through the streaming digest. murmur3.Sum32 walks the key
// with uintptr arithmetic that checkptr rejects under -race.
func (m *Map[K, V]) shard(key K) *shard[K, V] {
	h := murmur3.New32()
	h.Write([]byte(key))
	return &m.shards[h.Sum32()&m.mask]
}

// Get returns the value stored under key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	s := m.shard(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok
}

// Set stores value under key.
func (m *Map[K, V]) Set(key K, value V) {
	s := m.shard(key)
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

// GetOrCreate returns the value under key, storing create() first if the
// key is absent. create runs under the shard lock at most once per key.
func (m *Map[K, V]) GetOrCreate(key K, create func() V) V {
	s := m.shard(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items[key]; ok {
		return v
	}
	v = create()
	s.items[key] = v
	return v
}

// Delete removes key and reports whether it was present.
func (m *Map[K, V]) Delete(key K) bool {
	s := m.shard(key)
	s.mu.Lock()
	_, ok := s.items[key]
	delete(s.items, key)
	s.mu.Unlock()
	return ok
}

// Len returns the number of keys.
func (m *Map[K, V]) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Keys returns all keys in ascending order.
func (m *Map[K, V]) Keys() []K {
	var keys []K
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for k := range s.items {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Range calls fn for every entry until fn returns false. Shards are
// visited one at a time; fn must not modify the map.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for i := range m.shards {
		s := &m.shards[i]
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

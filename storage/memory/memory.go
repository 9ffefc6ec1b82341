package memory

import (
	"sync"

	"github.com/oarkflow/connector/storage"
)

var _ storage.IMap[string, any] = (*Map[string, any])(nil)

// Map is a mutex guarded generic map.
type Map[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// New creates a new Map
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V)}
}

func (g *Map[K, V]) Get(key K) (V, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	val, ok := g.m[key]
	return val, ok
}

func (g *Map[K, V]) Set(key K, value V) {
	g.mu.Lock()
	g.m[key] = value
	g.mu.Unlock()
}

func (g *Map[K, V]) Del(key K) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

// ForEach iterates over a snapshot, so fn may modify the map.
func (g *Map[K, V]) ForEach(fn func(K, V) bool) {
	for k, v := range g.AsMap() {
		if !fn(k, v) {
			return
		}
	}
}

func (g *Map[K, V]) Clear() {
	g.mu.Lock()
	g.m = make(map[K]V)
	g.mu.Unlock()
}

func (g *Map[K, V]) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.m)
}

func (g *Map[K, V]) Keys() []K {
	g.mu.RLock()
	defer g.mu.RUnlock()
	keys := make([]K, 0, len(g.m))
	for k := range g.m {
		keys = append(keys, k)
	}
	return keys
}

// AsMap returns a copy of the contents.
func (g *Map[K, V]) AsMap() map[K]V {
	g.mu.RLock()
	defer g.mu.RUnlock()
	result := make(map[K]V, len(g.m))
	for k, v := range g.m {
		result[k] = v
	}
	return result
}

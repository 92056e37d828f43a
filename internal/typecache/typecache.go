// Package typecache is a small bounded cache keyed by reflect.Type,
// used to memoize flattened type hierarchies for subscriber matching.
// Go has no portable weak map and no class unloading to key a cache
// eviction policy off of, so a bounded LRU keyed by the type handle
// itself is the straightforward substitute: reflect.Type values are
// interned by the runtime and live for the process lifetime anyway.
package typecache

import (
	"reflect"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Cache computes and memoizes a value per reflect.Type. Computation is
// serialized under a single mutex: the values cached here (flattened
// embedding hierarchies) are cheap, pure, and side-effect free, so
// serializing distinct keys costs nothing observable but guarantees
// the "compute at most once" property outright instead of relying on
// last-writer-wins races.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache
}

// New builds a Cache holding at most size entries. A size <= 0 selects
// the default bound of 4096 entries.
func New(size int) *Cache {
	if size <= 0 {
		size = 4096
	}
	c, err := lru.New(size)
	if err != nil {
		// Only returns an error for size <= 0, already guarded above.
		panic(err)
	}
	return &Cache{lru: c}
}

// GetOrCompute returns the cached value for key, computing and storing
// it via compute if absent.
func (c *Cache) GetOrCompute(key reflect.Type, compute func() any) any {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.lru.Get(key); ok {
		return v
	}
	v := compute()
	c.lru.Add(key, v)
	return v
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

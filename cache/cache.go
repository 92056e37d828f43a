// Package cache implements a generic, bounded, striped in-memory cache
// in the style of Guava's Cache/LoadingCache: a CacheBuilder assembles
// size/weight limits, write/access expiration, a removal listener, and
// (for LoadingCache) a value loader, then hands back a Cache. Size and
// weight bounds are enforced on Put, once a segment exceeds its share
// of the bound; expired entries are removed lazily by Get, on demand by
// Cleanup, and by a background sweep on a fixed interval.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/ratevent/clock"
	"github.com/GoCodeAlone/ratevent/internal/rvlog"
)

type entry[K comparable, V any] struct {
	key        K
	value      V
	weight     int64
	writtenAt  int64 // micros, per the cache's ticker
	accessedAt int64
	elem       *list.Element
}

// segment is one stripe of the cache: its own lock, its own LRU list,
// and its own share of the overall size/weight budget. Splitting the
// cache into concurrencyLevel independently-locked segments keeps
// writers to different keys from contending on one mutex.
type segment[K comparable, V any] struct {
	mu          sync.Mutex
	items       map[K]*entry[K, V]
	lru         *list.List
	maxEntries  int64 // <=0 means unbounded
	maxWeight   int64 // <=0 means unbounded
	totalWeight int64
}

func newSegment[K comparable, V any](initialCapacity int, maxEntries, maxWeight int64) *segment[K, V] {
	return &segment[K, V]{
		items:      make(map[K]*entry[K, V], initialCapacity),
		lru:        list.New(),
		maxEntries: maxEntries,
		maxWeight:  maxWeight,
	}
}

// Cache is a bounded, generic key/value store. The zero value is not
// usable; build one with CacheBuilder.Build.
type Cache[K comparable, V any] struct {
	segments []*segment[K, V]
	weigher  Weigher[K, V]

	expireAfterWrite  time.Duration
	expireAfterAccess time.Duration
	refreshAfterWrite time.Duration

	valueEquivalence Equivalence[V]
	removalListener  RemovalListener[K, V]
	ticker           clock.Clock
	logger           rvlog.Logger

	recordStats bool
	stats       cacheCounters

	loader Loader[K, V]

	cancelJanitor context.CancelFunc
}

type cacheCounters struct {
	hits         uint64
	misses       uint64
	loadSuccess  uint64
	loadFailure  uint64
	loadNanos    int64
	evictions    uint64
}

func newCache[K comparable, V any](b *CacheBuilder[K, V], loader Loader[K, V]) *Cache[K, V] {
	numSegments := b.concurrencyLevel
	if numSegments < 1 {
		numSegments = 1
	}

	perSegMax := int64(-1)
	if b.maximumSize >= 0 {
		perSegMax = b.maximumSize / int64(numSegments)
		if perSegMax < 1 {
			perSegMax = 1
		}
	}
	perSegWeight := int64(-1)
	if b.maximumWeight >= 0 {
		perSegWeight = b.maximumWeight / int64(numSegments)
		if perSegWeight < 1 {
			perSegWeight = 1
		}
	}

	segments := make([]*segment[K, V], numSegments)
	for i := range segments {
		segments[i] = newSegment[K, V](b.initialCapacity/numSegments+1, perSegMax, perSegWeight)
	}

	tk := b.ticker
	if tk == nil {
		tk = clock.NewSystemClock()
	}
	logger := rvlog.OrNoop(b.logger)
	if b.weakKeys || b.weakValues || b.softValues {
		logger.Warn("cache: weakKeys/weakValues/softValues requested but unsupported; entries held strongly",
			"weakKeys", b.weakKeys, "weakValues", b.weakValues, "softValues", b.softValues)
	}

	c := &Cache[K, V]{
		segments:          segments,
		weigher:           b.weigher,
		expireAfterWrite:  b.expireAfterWrite,
		expireAfterAccess: b.expireAfterAccess,
		refreshAfterWrite: b.refreshAfterWrite,
		valueEquivalence:  b.valueEquivalence,
		removalListener:   b.removalListener,
		ticker:            tk,
		logger:            logger,
		recordStats:       b.recordStats,
		loader:            loader,
	}

	if c.expireAfterWrite > 0 || c.expireAfterAccess > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancelJanitor = cancel
		go c.runJanitor(ctx)
	}
	return c
}

// Close stops the background janitor goroutine, if one is running.
// Safe to call on a Cache built with no expiration configured.
func (c *Cache[K, V]) Close() {
	if c.cancelJanitor != nil {
		c.cancelJanitor()
	}
}

// runJanitor sweeps expired entries on a fixed wall-clock interval.
// The sweep interval itself always runs on real time even when Ticker
// injects a fake clock for tests — only the expiration check inside
// sweepExpired reads from the injected clock — so tests assert
// expiration through Get's lazy check, not by waiting on this loop.
func (c *Cache[K, V]) runJanitor(ctx context.Context) {
	interval := c.expireAfterWrite
	if c.expireAfterAccess > 0 && (interval == 0 || c.expireAfterAccess < interval) {
		interval = c.expireAfterAccess
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *Cache[K, V]) sweepExpired() {
	now := c.ticker.NowMicros()
	for _, seg := range c.segments {
		seg.mu.Lock()
		for key, e := range seg.items {
			if c.isExpiredLocked(e, now) {
				seg.removeLocked(key, e)
				c.notifyRemoval(e, RemovalCauseExpired)
			}
		}
		seg.mu.Unlock()
	}
}

func (c *Cache[K, V]) segmentFor(key K) *segment[K, V] {
	if len(c.segments) == 1 {
		return c.segments[0]
	}
	h := fnv.New32a()
	fmt.Fprintf(h, "%v", key)
	return c.segments[h.Sum32()%uint32(len(c.segments))]
}

func (c *Cache[K, V]) isExpiredLocked(e *entry[K, V], nowMicros int64) bool {
	if c.expireAfterWrite > 0 && nowMicros-e.writtenAt >= c.expireAfterWrite.Microseconds() {
		return true
	}
	if c.expireAfterAccess > 0 && nowMicros-e.accessedAt >= c.expireAfterAccess.Microseconds() {
		return true
	}
	return false
}

func (seg *segment[K, V]) removeLocked(key K, e *entry[K, V]) {
	delete(seg.items, key)
	seg.lru.Remove(e.elem)
	seg.totalWeight -= e.weight
}

func (c *Cache[K, V]) notifyRemoval(e *entry[K, V], cause RemovalCause) {
	if c.recordStats && cause == RemovalCauseSize {
		atomic.AddUint64(&c.stats.evictions, 1)
	}
	if c.removalListener == nil {
		return
	}
	notif := RemovalNotification[K, V]{Key: e.key, Value: e.value, Cause: cause}
	go c.removalListener(notif)
}

// GetIfPresent returns the cached value for key without invoking any
// loader — the same lookup Get performs, named for callers that want
// to make explicit that no load will be attempted on a miss.
func (c *Cache[K, V]) GetIfPresent(key K) (V, bool) {
	return c.Get(key)
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	seg := c.segmentFor(key)
	now := c.ticker.NowMicros()

	seg.mu.Lock()
	e, ok := seg.items[key]
	if ok && c.isExpiredLocked(e, now) {
		seg.removeLocked(key, e)
		c.notifyRemoval(e, RemovalCauseExpired)
		ok = false
	}
	if ok {
		e.accessedAt = now
		seg.lru.MoveToFront(e.elem)
	}
	seg.mu.Unlock()

	if c.recordStats {
		if ok {
			atomic.AddUint64(&c.stats.hits, 1)
		} else {
			atomic.AddUint64(&c.stats.misses, 1)
		}
	}
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put inserts or replaces the value for key.
func (c *Cache[K, V]) Put(key K, value V) {
	c.put(key, value, RemovalCauseReplaced)
}

func (c *Cache[K, V]) put(key K, value V, replaceCause RemovalCause) {
	var weight int64 = 1
	if c.weigher != nil {
		weight = c.weigher(key, value)
	}
	now := c.ticker.NowMicros()
	seg := c.segmentFor(key)

	seg.mu.Lock()
	if old, exists := seg.items[key]; exists {
		if c.valueEquivalence != nil && c.valueEquivalence(old.value, value) {
			old.accessedAt = now
			seg.lru.MoveToFront(old.elem)
			seg.mu.Unlock()
			return
		}
		seg.removeLocked(key, old)
		defer c.notifyRemoval(old, replaceCause)
	}

	e := &entry[K, V]{key: key, value: value, weight: weight, writtenAt: now, accessedAt: now}
	e.elem = seg.lru.PushFront(e)
	seg.items[key] = e
	seg.totalWeight += weight

	var evicted []*entry[K, V]
	for seg.overLimit() {
		back := seg.lru.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*entry[K, V])
		if victim.key == key {
			break // never evict the entry we just inserted
		}
		seg.removeLocked(victim.key, victim)
		evicted = append(evicted, victim)
	}
	seg.mu.Unlock()

	for _, victim := range evicted {
		c.notifyRemoval(victim, RemovalCauseSize)
	}
}

func (seg *segment[K, V]) overLimit() bool {
	if seg.maxEntries > 0 && int64(len(seg.items)) > seg.maxEntries {
		return true
	}
	if seg.maxWeight > 0 && seg.totalWeight > seg.maxWeight {
		return true
	}
	return false
}

// Invalidate removes key, if present, notifying the removal listener
// with RemovalCauseExplicit.
func (c *Cache[K, V]) Invalidate(key K) {
	seg := c.segmentFor(key)
	seg.mu.Lock()
	e, ok := seg.items[key]
	if ok {
		seg.removeLocked(key, e)
	}
	seg.mu.Unlock()
	if ok {
		c.notifyRemoval(e, RemovalCauseExplicit)
	}
}

// InvalidateAll clears every entry, notifying the removal listener for
// each with RemovalCauseExplicit.
func (c *Cache[K, V]) InvalidateAll() {
	for _, seg := range c.segments {
		seg.mu.Lock()
		all := make([]*entry[K, V], 0, len(seg.items))
		for key, e := range seg.items {
			all = append(all, e)
			delete(seg.items, key)
		}
		seg.lru.Init()
		seg.totalWeight = 0
		seg.mu.Unlock()
		for _, e := range all {
			c.notifyRemoval(e, RemovalCauseExplicit)
		}
	}
}

// Size returns the approximate number of entries currently cached
// (approximate because expired-but-not-yet-swept entries still count,
// the same caveat Guava's own Cache.size() documents).
func (c *Cache[K, V]) Size() int64 {
	var total int64
	for _, seg := range c.segments {
		seg.mu.Lock()
		total += int64(len(seg.items))
		seg.mu.Unlock()
	}
	return total
}

// Cleanup performs an immediate, synchronous expiration sweep across
// every segment — the manual counterpart to the background janitor's
// periodic one, useful for tests and for callers that want expired
// entries reclaimed (and their removal listener fired) right now
// rather than waiting for the next scheduled sweep or lazy Get.
func (c *Cache[K, V]) Cleanup() {
	c.sweepExpired()
}

// Stats returns a snapshot of cumulative counters. Always zero unless
// the builder's RecordStats option was set.
func (c *Cache[K, V]) Stats() CacheStats {
	return CacheStats{
		HitCount:         atomic.LoadUint64(&c.stats.hits),
		MissCount:        atomic.LoadUint64(&c.stats.misses),
		LoadSuccessCount: atomic.LoadUint64(&c.stats.loadSuccess),
		LoadFailureCount: atomic.LoadUint64(&c.stats.loadFailure),
		TotalLoadTime:    time.Duration(atomic.LoadInt64(&c.stats.loadNanos)),
		EvictionCount:    atomic.LoadUint64(&c.stats.evictions),
	}
}

// LoadingCache wraps Cache with a Loader: Get computes and caches a
// missing key's value instead of reporting a miss.
type LoadingCache[K comparable, V any] struct {
	Cache[K, V]
}

// Get returns the cached value for key, invoking the loader and
// caching the result on a miss. A loader error is returned as-is and
// never cached; see Loader's doc comment for how ErrKeyNotFound is
// counted differently from other loader errors.
func (c *LoadingCache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if v, ok := c.Cache.Get(key); ok {
		return v, nil
	}

	start := c.ticker.NowMicros()
	v, err := c.loader(ctx, key)
	elapsed := c.ticker.NowMicros() - start

	if c.recordStats {
		atomic.AddInt64(&c.stats.loadNanos, elapsed*int64(time.Microsecond))
		if err != nil {
			if !errors.Is(err, ErrKeyNotFound) {
				atomic.AddUint64(&c.stats.loadFailure, 1)
			}
		} else {
			atomic.AddUint64(&c.stats.loadSuccess, 1)
		}
	}
	if err != nil {
		var zero V
		return zero, err
	}
	c.Cache.Put(key, v)
	return v, nil
}

// GetOrLoad is an alias for Get, naming the "load on miss, reuse on
// hit" behavior explicitly for callers migrating from a plain Cache's
// GetIfPresent.
func (c *LoadingCache[K, V]) GetOrLoad(ctx context.Context, key K) (V, error) {
	return c.Get(ctx, key)
}

// Refresh reloads key unconditionally, replacing its cached value on
// success. Unlike Get, it reloads even if an unexpired entry already
// exists — the mechanism RefreshAfterWrite would drive on a timer if
// this package ran one.
func (c *LoadingCache[K, V]) Refresh(ctx context.Context, key K) error {
	v, err := c.loader(ctx, key)
	if err != nil {
		if c.recordStats && !errors.Is(err, ErrKeyNotFound) {
			atomic.AddUint64(&c.stats.loadFailure, 1)
		}
		return err
	}
	if c.recordStats {
		atomic.AddUint64(&c.stats.loadSuccess, 1)
	}
	c.Cache.Put(key, v)
	return nil
}

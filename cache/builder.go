package cache

import (
	"context"
	"time"

	"github.com/GoCodeAlone/ratevent/clock"
	"github.com/GoCodeAlone/ratevent/internal/rvlog"
)

// Loader computes the value for a key that isn't already cached. A
// Loader that returns ErrKeyNotFound signals "no value exists for this
// key": LoadingCache.Get and Refresh still return that error to the
// caller without caching anything, but don't count it toward
// LoadFailureCount the way they count every other loader error, since
// it isn't a failed attempt to reach the value — it's a definitive
// answer that there isn't one.
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// RemovalListener is notified after an entry leaves the cache, off the
// calling goroutine.
type RemovalListener[K comparable, V any] func(RemovalNotification[K, V])

// Weigher assigns a weight to a key/value pair, used with
// MaximumWeight instead of an entry-count limit.
type Weigher[K comparable, V any] func(key K, value V) int64

// Equivalence is a custom equality test for keys or values. As a
// ValueEquivalence it decides whether a Put rewrites an equal value;
// as a KeyEquivalence it is recorded only, and lookups still use K's
// built-in ==.
type Equivalence[T any] func(a, b T) bool

// CacheBuilder assembles a Cache or LoadingCache. Each option may be
// set at most once — calling one twice returns ErrAlreadySet, which
// catches copy-paste mistakes like setting MaximumSize from two
// different config layers instead of silently letting the second call
// clobber the first.
type CacheBuilder[K comparable, V any] struct {
	initialCapacity   int
	concurrencyLevel  int
	maximumSize       int64
	maximumWeight     int64
	weigher           Weigher[K, V]
	expireAfterWrite  time.Duration
	expireAfterAccess time.Duration
	refreshAfterWrite time.Duration
	weakKeys          bool
	weakValues        bool
	softValues        bool
	keyEquivalence    Equivalence[K]
	valueEquivalence  Equivalence[V]
	removalListener   RemovalListener[K, V]
	ticker            clock.Clock
	recordStats       bool
	logger            rvlog.Logger

	set map[string]bool
}

// NewCacheBuilder returns an empty builder with Guava's own documented
// defaults: initialCapacity 16, concurrencyLevel 4, no size/weight
// limit, no expiration, stats disabled.
func NewCacheBuilder[K comparable, V any]() *CacheBuilder[K, V] {
	return &CacheBuilder[K, V]{
		initialCapacity:  16,
		concurrencyLevel: 4,
		maximumSize:      -1,
		maximumWeight:    -1,
		set:              make(map[string]bool),
	}
}

func (b *CacheBuilder[K, V]) markOnce(name string) error {
	if b.set[name] {
		return ErrAlreadySet
	}
	b.set[name] = true
	return nil
}

// InitialCapacity sets the initial segment table size hint.
func (b *CacheBuilder[K, V]) InitialCapacity(n int) (*CacheBuilder[K, V], error) {
	if n < 0 {
		return b, ErrInvalidSize
	}
	if err := b.markOnce("initialCapacity"); err != nil {
		return b, err
	}
	b.initialCapacity = n
	return b, nil
}

// ConcurrencyLevel sets the estimated number of concurrent writers,
// which becomes the number of internal segments. It governs striping
// for less lock contention, not a hard cap on concurrent writers.
func (b *CacheBuilder[K, V]) ConcurrencyLevel(n int) (*CacheBuilder[K, V], error) {
	if n < 1 {
		return b, ErrInvalidSize
	}
	if err := b.markOnce("concurrencyLevel"); err != nil {
		return b, err
	}
	b.concurrencyLevel = n
	return b, nil
}

// MaximumSize bounds the cache to (approximately) n entries, evicting
// least-recently-used entries first. Mutually exclusive with
// MaximumWeight.
func (b *CacheBuilder[K, V]) MaximumSize(n int64) (*CacheBuilder[K, V], error) {
	if n < 0 {
		return b, ErrInvalidSize
	}
	if err := b.markOnce("maximumSize"); err != nil {
		return b, err
	}
	b.maximumSize = n
	return b, nil
}

// MaximumWeight bounds the cache by total weigher-assigned weight
// instead of entry count. Requires Weigher to also be set.
func (b *CacheBuilder[K, V]) MaximumWeight(n int64) (*CacheBuilder[K, V], error) {
	if n < 0 {
		return b, ErrInvalidSize
	}
	if err := b.markOnce("maximumWeight"); err != nil {
		return b, err
	}
	b.maximumWeight = n
	return b, nil
}

// Weigher supplies the weight function MaximumWeight evicts against.
func (b *CacheBuilder[K, V]) Weigher(w Weigher[K, V]) (*CacheBuilder[K, V], error) {
	if err := b.markOnce("weigher"); err != nil {
		return b, err
	}
	b.weigher = w
	return b, nil
}

// ExpireAfterWrite evicts an entry d after it was last written,
// regardless of how often it's read.
func (b *CacheBuilder[K, V]) ExpireAfterWrite(d time.Duration) (*CacheBuilder[K, V], error) {
	if d < 0 {
		return b, ErrInvalidDuration
	}
	if err := b.markOnce("expireAfterWrite"); err != nil {
		return b, err
	}
	b.expireAfterWrite = d
	return b, nil
}

// ExpireAfterAccess evicts an entry d after it was last read or
// written, whichever is more recent.
func (b *CacheBuilder[K, V]) ExpireAfterAccess(d time.Duration) (*CacheBuilder[K, V], error) {
	if d < 0 {
		return b, ErrInvalidDuration
	}
	if err := b.markOnce("expireAfterAccess"); err != nil {
		return b, err
	}
	b.expireAfterAccess = d
	return b, nil
}

// RefreshAfterWrite records a refresh interval d. The cache does not
// reload entries on its own when d elapses, and readers are not served
// a stale value while a reload runs; LoadingCache.Refresh reloads a key
// only when it is called. Build returns ErrRefreshWithoutLoader if d
// is positive.
func (b *CacheBuilder[K, V]) RefreshAfterWrite(d time.Duration) (*CacheBuilder[K, V], error) {
	if d < 0 {
		return b, ErrInvalidDuration
	}
	if err := b.markOnce("refreshAfterWrite"); err != nil {
		return b, err
	}
	b.refreshAfterWrite = d
	return b, nil
}

// WeakKeys records the weakKeys option. Go has no portable weak
// reference tied to GC pressure, so the shipped engine treats this as
// strong references and logs a one-time warning at Build time.
func (b *CacheBuilder[K, V]) WeakKeys() (*CacheBuilder[K, V], error) {
	if err := b.markOnce("weakKeys"); err != nil {
		return b, err
	}
	b.weakKeys = true
	return b, nil
}

// WeakValues records the weakValues option; see WeakKeys.
func (b *CacheBuilder[K, V]) WeakValues() (*CacheBuilder[K, V], error) {
	if err := b.markOnce("weakValues"); err != nil {
		return b, err
	}
	b.weakValues = true
	return b, nil
}

// SoftValues records the softValues option; see WeakKeys.
func (b *CacheBuilder[K, V]) SoftValues() (*CacheBuilder[K, V], error) {
	if err := b.markOnce("softValues"); err != nil {
		return b, err
	}
	b.softValues = true
	return b, nil
}

// KeyEquivalence overrides key comparison for duplicate detection.
// Segments index entries by a Go map keyed on K directly, so K's
// built-in == is what actually decides which bucket an entry lives in
// regardless of this option; eq is retained and exposed through the
// builder only so that a caller constructing a cache that will later
// gain an identity-keyed (weak-reference) backing store has somewhere
// to declare that intent now. Defaults to nil, meaning plain ==.
func (b *CacheBuilder[K, V]) KeyEquivalence(eq Equivalence[K]) (*CacheBuilder[K, V], error) {
	if err := b.markOnce("keyEquivalence"); err != nil {
		return b, err
	}
	b.keyEquivalence = eq
	return b, nil
}

// ValueEquivalence overrides the equality Put uses to detect a
// same-value rewrite. When set, writing a value equal (per eq) to the
// one already cached under that key is treated as a no-op touch: the
// entry's LRU position and access time are refreshed but no removal
// notification fires and no weight recalculation happens. Defaults to
// nil, under which every Put is treated as a replacement.
func (b *CacheBuilder[K, V]) ValueEquivalence(eq Equivalence[V]) (*CacheBuilder[K, V], error) {
	if err := b.markOnce("valueEquivalence"); err != nil {
		return b, err
	}
	b.valueEquivalence = eq
	return b, nil
}

// RemovalListener registers l to be notified, off the triggering
// goroutine, whenever an entry leaves the cache.
func (b *CacheBuilder[K, V]) RemovalListener(l RemovalListener[K, V]) (*CacheBuilder[K, V], error) {
	if err := b.markOnce("removalListener"); err != nil {
		return b, err
	}
	b.removalListener = l
	return b, nil
}

// Ticker overrides the cache's time source, the way WithClock overrides
// ratelimit.RateLimiter's — tests use a clock.FakeClock to assert
// expiration deterministically.
func (b *CacheBuilder[K, V]) Ticker(c clock.Clock) (*CacheBuilder[K, V], error) {
	if err := b.markOnce("ticker"); err != nil {
		return b, err
	}
	b.ticker = c
	return b, nil
}

// RecordStats turns on CacheStats collection; disabled by default
// since it costs an atomic increment per request.
func (b *CacheBuilder[K, V]) RecordStats() (*CacheBuilder[K, V], error) {
	if err := b.markOnce("recordStats"); err != nil {
		return b, err
	}
	b.recordStats = true
	return b, nil
}

// Logger attaches a logger for the weakKeys/weakValues/softValues
// one-time warning and other diagnostics.
func (b *CacheBuilder[K, V]) Logger(l rvlog.Logger) (*CacheBuilder[K, V], error) {
	if err := b.markOnce("logger"); err != nil {
		return b, err
	}
	b.logger = l
	return b, nil
}

func (b *CacheBuilder[K, V]) validate() error {
	hasSize := b.maximumSize >= 0
	hasWeight := b.maximumWeight >= 0
	if hasSize && hasWeight {
		return ErrMaximumSizeAndWeight
	}
	if hasWeight != (b.weigher != nil) {
		return ErrWeigherWithoutMaximumWeight
	}
	return nil
}

// Build constructs a plain Cache with no loader: Get only ever returns
// what was previously Put.
func (b *CacheBuilder[K, V]) Build() (*Cache[K, V], error) {
	if b.refreshAfterWrite > 0 {
		return nil, ErrRefreshWithoutLoader
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return newCache[K, V](b, nil), nil
}

// BuildLoading constructs a LoadingCache backed by loader: Get computes
// and caches a missing key's value instead of reporting a miss.
func (b *CacheBuilder[K, V]) BuildLoading(loader Loader[K, V]) (*LoadingCache[K, V], error) {
	if loader == nil {
		return nil, ErrRefreshWithoutLoader
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &LoadingCache[K, V]{Cache: *newCache[K, V](b, loader)}, nil
}

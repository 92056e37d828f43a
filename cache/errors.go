package cache

import "errors"

var (
	// ErrAlreadySet is returned when a CacheBuilder option that may
	// only be configured once is called a second time.
	ErrAlreadySet = errors.New("cache: builder option already set")

	// ErrMaximumSizeAndWeight is returned by Build when both
	// MaximumSize and MaximumWeight were configured; they are mutually
	// exclusive eviction bases.
	ErrMaximumSizeAndWeight = errors.New("cache: maximumSize and maximumWeight are mutually exclusive")

	// ErrWeigherWithoutMaximumWeight is returned by Build when Weigher
	// is set without MaximumWeight, or vice versa.
	ErrWeigherWithoutMaximumWeight = errors.New("cache: weigher requires maximumWeight, and maximumWeight requires a weigher")

	// ErrRefreshWithoutLoader is returned by Build when
	// RefreshAfterWrite is set to a positive duration (Build has no
	// loader), and by BuildLoading when the loader is nil.
	ErrRefreshWithoutLoader = errors.New("cache: refreshAfterWrite requires a loader")

	// ErrInvalidDuration is returned for a negative TTL or refresh
	// interval.
	ErrInvalidDuration = errors.New("cache: duration must be non-negative")

	// ErrInvalidSize is returned for a negative capacity, size or
	// weight, or a concurrency level below 1.
	ErrInvalidSize = errors.New("cache: size must be non-negative")

	// ErrKeyNotFound is returned by LoadingCache.Get when the loader
	// itself reports the key has no value (as opposed to a load
	// error).
	ErrKeyNotFound = errors.New("cache: key not found")
)

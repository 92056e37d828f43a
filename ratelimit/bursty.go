package ratelimit

import (
	"math"

	"github.com/GoCodeAlone/ratevent/clock"
	"github.com/GoCodeAlone/ratevent/internal/rvlog"
)

// burstyPolicy implements the SmoothBursty mode: stored permits accrue
// at exactly the stable rate while idle, and are free to spend in a
// burst (storedPermitsToWaitTime is always zero). Capacity is pinned
// to maxBurstSeconds × rate.
type burstyPolicy struct {
	maxBurstSeconds float64
	max             float64
}

func (p *burstyPolicy) maxPermits() float64 { return p.max }

func (p *burstyPolicy) coolDownIntervalMicros(stableIntervalMicros float64) float64 {
	return stableIntervalMicros
}

func (p *burstyPolicy) storedPermitsToWaitTime(stableIntervalMicros, stored, take float64) int64 {
	return 0
}

func (p *burstyPolicy) onRateChanged(newStableIntervalMicros, oldStored float64) float64 {
	oldMax := p.max
	newMax := p.maxBurstSeconds * (1e6 / newStableIntervalMicros)
	p.max = newMax

	switch {
	case math.IsInf(oldMax, 1):
		// Previous capacity was unbounded; snap straight to the new
		// capacity.
		return newMax
	case oldMax == 0:
		// Cold start: bursts are not pre-charged.
		return 0
	default:
		return oldStored * newMax / oldMax
	}
}

// NewSmoothBursty builds a burst-tolerant token bucket: rate permits
// per second, with up to maxBurstSeconds worth of idle capacity
// bankable for a burst.
func NewSmoothBursty(rate, maxBurstSeconds float64, opts ...Option) (*RateLimiter, error) {
	if maxBurstSeconds <= 0 {
		return nil, ErrInvalidMaxBurstSeconds
	}
	cfg := newOptions(opts)
	p := &burstyPolicy{maxBurstSeconds: maxBurstSeconds, max: 0}
	return newRateLimiter(rate, p, cfg.clock, cfg.logger)
}

// options carries constructor-only configuration shared by both
// modes; see Option.
type options struct {
	clock  clock.Clock
	logger rvlog.Logger
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a RateLimiter at construction time.
type Option func(*options)

// WithClock injects a Clock, overriding the default SystemClock. Tests
// use this to supply a clock.FakeClock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger injects a Logger for debug-level acquire/try-acquire
// tracing.
func WithLogger(l rvlog.Logger) Option {
	return func(o *options) { o.logger = l }
}

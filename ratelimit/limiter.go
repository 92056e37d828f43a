// Package ratelimit implements a smooth token-bucket rate limiter with
// two modes: SmoothBursty, which lets idle capacity be spent in a
// burst, and SmoothWarmingUp, which serves coldest right after an idle
// period and ramps down to the stable rate as its bucket drains.
//
// Both modes share one reservation algorithm: a request waits only for
// the debt left by earlier requests, never for its own cost, which is
// charged forward onto
// nextFreeTicketMicros, the earliest moment the *next* request will be
// served. This is the "pay for the previous caller" design — there is
// no queuing, only a monotonically advancing clock of promises.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/ratevent/clock"
	"github.com/GoCodeAlone/ratevent/internal/rvlog"
)

// policy supplies the two numbers the shared reservation algorithm
// can't derive on its own, plus the re-parameterization hook invoked
// whenever the rate changes. SmoothBursty and SmoothWarmingUp are its
// two implementations.
type policy interface {
	// maxPermits returns the current bucket capacity.
	maxPermits() float64

	// coolDownIntervalMicros returns how many microseconds of idle
	// time it takes to accrue one fresh permit, given the current
	// stable interval.
	coolDownIntervalMicros(stableIntervalMicros float64) float64

	// storedPermitsToWaitTime returns the wait, in whole microseconds,
	// to spend `take` permits out of a bucket currently holding
	// `stored` permits.
	storedPermitsToWaitTime(stableIntervalMicros, stored, take float64) int64

	// onRateChanged re-parameterizes the policy for a new stable
	// interval and returns the rescaled storedPermits value.
	onRateChanged(newStableIntervalMicros, oldStoredPermits float64) (newStoredPermits float64)
}

// RateLimiter is a smooth, reservation-based token bucket. The zero
// value is not usable; construct one with NewSmoothBursty or
// NewSmoothWarmingUp.
//
// All exported methods take the instance lock for their reservation
// portion only; any sleep happens with the lock released so concurrent
// callers can keep reserving while an earlier caller waits out its turn.
type RateLimiter struct {
	id     string
	clock  clock.Clock
	logger rvlog.Logger

	mu                   sync.Mutex
	stableIntervalMicros float64
	storedPermits        float64
	nextFreeTicketMicros int64
	policy               policy
}

func newRateLimiter(rate float64, p policy, c clock.Clock, l rvlog.Logger) (*RateLimiter, error) {
	if c == nil {
		c = clock.NewSystemClock()
	}
	r := &RateLimiter{
		id:                   uuid.NewString(),
		clock:                c,
		logger:               rvlog.OrNoop(l),
		nextFreeTicketMicros: c.NowMicros(),
		policy:               p,
	}
	if err := r.setRateLocked(rate); err != nil {
		return nil, err
	}
	return r, nil
}

// ID returns a unique identifier for this limiter instance, suitable
// for log correlation.
func (r *RateLimiter) ID() string { return r.id }

// SetRate changes the limiter's rate. It re-syncs stored permits to
// "now" using the old cool-down interval before installing the new
// stable interval, so a rate change neither forgets accrued debt nor
// grants an instantaneous burst.
func (r *RateLimiter) SetRate(rate float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setRateLocked(rate)
}

func (r *RateLimiter) setRateLocked(rate float64) error {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return ErrInvalidRate
	}
	now := r.clock.NowMicros()
	r.resyncLocked(now)
	newStable := 1e6 / rate
	r.storedPermits = r.policy.onRateChanged(newStable, r.storedPermits)
	r.stableIntervalMicros = newStable
	return nil
}

// GetRate returns the limiter's current configured rate in permits per
// second.
func (r *RateLimiter) GetRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return 1e6 / r.stableIntervalMicros
}

// Acquire reserves permits and blocks until the reservation's moment
// arrives, returning how long it slept. The sleep is uninterruptible:
// ctx is not read, so cancelling it does not shorten the wait.
func (r *RateLimiter) Acquire(ctx context.Context, permits int) (time.Duration, error) {
	if permits < 1 {
		return 0, ErrInvalidPermits
	}

	r.mu.Lock()
	now := r.clock.NowMicros()
	moment := r.reserveLocked(now, float64(permits))
	r.mu.Unlock()

	wait := maxInt64(moment-now, 0)
	r.clock.SleepMicros(wait)
	r.logger.Debug("ratelimit: acquired", "limiter", r.id, "permits", permits, "waitMicros", wait)
	return time.Duration(wait) * time.Microsecond, nil
}

// TryAcquire reserves permits only if the resulting wait would be at
// most timeout. On failure it returns false without consuming permits
// or advancing the service moment. On success it behaves exactly like
// Acquire and returns the same wait duration Acquire would have.
func (r *RateLimiter) TryAcquire(ctx context.Context, permits int, timeout time.Duration) (time.Duration, bool, error) {
	if permits < 1 {
		return 0, false, ErrInvalidPermits
	}
	if timeout < 0 {
		return 0, false, ErrNegativeTimeout
	}

	r.mu.Lock()
	now := r.clock.NowMicros()
	r.resyncLocked(now)
	available := r.nextFreeTicketMicros
	wouldWait := maxInt64(available-now, 0)
	if wouldWait > timeout.Microseconds() {
		r.mu.Unlock()
		return 0, false, nil
	}
	moment := r.reserveLocked(now, float64(permits))
	r.mu.Unlock()

	wait := maxInt64(moment-now, 0)
	r.clock.SleepMicros(wait)
	r.logger.Debug("ratelimit: try-acquired", "limiter", r.id, "permits", permits, "waitMicros", wait)
	return time.Duration(wait) * time.Microsecond, true, nil
}

// resyncLocked grants fresh permits for any idle time since
// nextFreeTicketMicros, clamped to the bucket's capacity. Must be
// called with mu held.
func (r *RateLimiter) resyncLocked(now int64) {
	if now <= r.nextFreeTicketMicros {
		return
	}
	interval := r.policy.coolDownIntervalMicros(r.stableIntervalMicros)
	earned := float64(now-r.nextFreeTicketMicros) / interval
	r.storedPermits = math.Min(r.policy.maxPermits(), r.storedPermits+earned)
	r.nextFreeTicketMicros = now
}

// reserveLocked performs the shared reservation algorithm: resync,
// split the request between stored and fresh permits, advance
// nextFreeTicketMicros by the request's cost, and return the
// pre-advance moment the caller should wait for. Must be called with
// mu held.
func (r *RateLimiter) reserveLocked(now int64, permits float64) int64 {
	r.resyncLocked(now)
	moment := r.nextFreeTicketMicros

	storedToSpend := math.Min(permits, r.storedPermits)
	freshPermits := permits - storedToSpend

	waitMicros := r.policy.storedPermitsToWaitTime(r.stableIntervalMicros, r.storedPermits, storedToSpend) +
		int64(freshPermits*r.stableIntervalMicros)

	r.nextFreeTicketMicros = saturatingAdd(moment, waitMicros)
	r.storedPermits -= storedToSpend
	return moment
}

// Stats is a point-in-time snapshot for observability.
type Stats struct {
	StoredPermits        float64
	MaxPermits           float64
	NextFreeTicketMicros int64
	Rate                 float64
}

// Stats returns a snapshot of the limiter's internal state.
func (r *RateLimiter) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		StoredPermits:        r.storedPermits,
		MaxPermits:           r.policy.maxPermits(),
		NextFreeTicketMicros: r.nextFreeTicketMicros,
		Rate:                 1e6 / r.stableIntervalMicros,
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// saturatingAdd adds b to a, clamping to math.MaxInt64 on overflow
// instead of wrapping. A request with a very large cost (many permits
// at a very low rate) would otherwise wrap nextFreeTicketMicros
// negative and grant an unbounded burst on the next request.
func saturatingAdd(a, b int64) int64 {
	sum := a + b
	if b > 0 && sum < a {
		return math.MaxInt64
	}
	return sum
}

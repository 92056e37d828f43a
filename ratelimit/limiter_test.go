package ratelimit_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/ratevent/clock"
	"github.com/GoCodeAlone/ratevent/ratelimit"
)

func TestSmoothBursty_ConcreteScenario(t *testing.T) {
	// rate=5/s, maxBurstSeconds=1 -> maxPermits=5.
	fc := clock.NewFakeClock(0)
	rl, err := ratelimit.NewSmoothBursty(5, 1, ratelimit.WithClock(fc))
	require.NoError(t, err)

	wait, err := rl.Acquire(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), wait)
	assert.Equal(t, int64(200_000), rl.Stats().NextFreeTicketMicros)

	fc.Advance(50_000)
	wait, err = rl.Acquire(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 150_000*time.Microsecond, wait)
}

func TestSmoothBursty_BurstThenStable(t *testing.T) {
	// idle >= C/r permits a C-permit burst at zero wait, then the
	// next permit waits 1/r.
	fc := clock.NewFakeClock(0)
	rl, err := ratelimit.NewSmoothBursty(5, 1, ratelimit.WithClock(fc))
	require.NoError(t, err)

	fc.Advance(1_000_000) // idle for C/r = 1s

	// Cost is always charged to the *next* caller, so the
	// burst's last free call is the one whose own fresh-permit cost
	// gets deferred; the first caller to actually observe a non-zero
	// wait is the one after that. At least the 5 stored permits must
	// be served free, and once a wait appears it must equal 1/r.
	free := 0
	for {
		wait, err := rl.Acquire(context.Background(), 1)
		require.NoError(t, err)
		if wait > 0 {
			assert.Equal(t, 200_000*time.Microsecond, wait)
			break
		}
		free++
		require.Less(t, free, 100, "burst never ended")
	}
	assert.GreaterOrEqual(t, free, 5)
}

func TestSmoothBursty_ConvergesToRate(t *testing.T) {
	// N sequential single-permit acquires converge to N/r seconds,
	// error bounded by one stableInterval.
	fc := clock.NewFakeClock(0)
	const rate = 5.0
	rl, err := ratelimit.NewSmoothBursty(rate, 1, ratelimit.WithClock(fc))
	require.NoError(t, err)

	const n = 1000
	for i := 0; i < n; i++ {
		_, err := rl.Acquire(context.Background(), 1)
		require.NoError(t, err)
	}
	elapsed := fc.NowMicros()
	expected := int64(n / rate * 1e6)
	stableInterval := int64(1e6 / rate)
	assert.InDelta(t, expected, elapsed, float64(stableInterval))
}

func TestSmoothWarmingUp_ConcreteScenario(t *testing.T) {
	// rate=10/s, coldFactor=3, warmup=2s -> thresholdPermits=10,
	// maxPermits=15, slope=40000. Draining 5 permits from full costs
	// exactly 1,000,000us.
	fc := clock.NewFakeClock(0)
	rl, err := ratelimit.NewSmoothWarmingUp(10, 2_000_000, 3, ratelimit.WithClock(fc))
	require.NoError(t, err)

	stats := rl.Stats()
	assert.InDelta(t, 15.0, stats.MaxPermits, 1e-9)
	assert.InDelta(t, 15.0, stats.StoredPermits, 1e-9) // cold start: full

	wait, err := rl.Acquire(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), wait, "first acquire after construction never waits")
	assert.InDelta(t, 10.0, rl.Stats().StoredPermits, 1e-9)

	// The cost of those 5 permits was charged onto the next caller.
	wait2, err := rl.Acquire(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1_000_000*time.Microsecond, wait2)
}

func TestSmoothWarmingUp_FullDrainEqualsWarmupPeriod(t *testing.T) {
	// Total time to drain maxPermits from full equals warmupPeriodMicros
	// within one stableInterval.
	fc := clock.NewFakeClock(0)
	const warmup = 2_000_000.0
	rl, err := ratelimit.NewSmoothWarmingUp(10, warmup, 3, ratelimit.WithClock(fc))
	require.NoError(t, err)

	startTicket := rl.Stats().NextFreeTicketMicros
	max := int(math.Round(rl.Stats().MaxPermits))
	for i := 0; i < max; i++ {
		_, err := rl.Acquire(context.Background(), 1)
		require.NoError(t, err)
	}
	// The Nth acquire's own cost is only reflected in
	// nextFreeTicketMicros, not in its own returned wait (that cost is
	// deferred to whoever asks next) — so the committed cost of fully
	// draining the bucket is the ticket's total advance, not the sum
	// of returned waits.
	totalCommitted := rl.Stats().NextFreeTicketMicros - startTicket
	assert.InDelta(t, warmup, float64(totalCommitted), 100_000)
}

func TestRateLimiter_InvariantsUnderRandomSchedule(t *testing.T) {
	// nextFreeTicketMicros never decreases, and
	// 0 <= storedPermits <= maxPermits at every observable point.
	fc := clock.NewFakeClock(0)
	rl, err := ratelimit.NewSmoothBursty(3, 2, ratelimit.WithClock(fc))
	require.NoError(t, err)

	lastTicket := rl.Stats().NextFreeTicketMicros
	for i := 0; i < 200; i++ {
		fc.Advance(int64(37 * (i % 7)))
		_, err := rl.Acquire(context.Background(), 1+(i%3))
		require.NoError(t, err)

		stats := rl.Stats()
		assert.GreaterOrEqual(t, stats.NextFreeTicketMicros, lastTicket)
		assert.GreaterOrEqual(t, stats.StoredPermits, 0.0)
		assert.LessOrEqual(t, stats.StoredPermits, stats.MaxPermits+1e-9)
		lastTicket = stats.NextFreeTicketMicros
	}
}

func TestTryAcquire_ZeroTimeoutFailsCold(t *testing.T) {
	// tryAcquire(k, 0) on an empty cold limiter fails.
	fc := clock.NewFakeClock(0)
	rl, err := ratelimit.NewSmoothWarmingUp(10, 2_000_000, 3, ratelimit.WithClock(fc))
	require.NoError(t, err)

	// Drain the bucket down to empty first so the next request isn't free.
	_, err = rl.Acquire(context.Background(), int(rl.Stats().MaxPermits))
	require.NoError(t, err)

	statsBefore := rl.Stats()
	_, ok, err := rl.TryAcquire(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, statsBefore, rl.Stats(), "failed tryAcquire must not mutate state")
}

func TestTryAcquire_InfiniteTimeoutMatchesAcquire(t *testing.T) {
	fcA := clock.NewFakeClock(0)
	fcB := clock.NewFakeClock(0)
	rlA, err := ratelimit.NewSmoothBursty(5, 1, ratelimit.WithClock(fcA))
	require.NoError(t, err)
	rlB, err := ratelimit.NewSmoothBursty(5, 1, ratelimit.WithClock(fcB))
	require.NoError(t, err)

	// Drain both to the same non-trivial state.
	_, err = rlA.Acquire(context.Background(), 1)
	require.NoError(t, err)
	_, err = rlB.Acquire(context.Background(), 1)
	require.NoError(t, err)

	waitAcquire, err := rlA.Acquire(context.Background(), 1)
	require.NoError(t, err)

	waitTry, ok, err := rlB.TryAcquire(context.Background(), 1, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, waitAcquire, waitTry)
}

func TestSetRate_RescalesStoredPermitsProportionally(t *testing.T) {
	fc := clock.NewFakeClock(0)
	rl, err := ratelimit.NewSmoothBursty(5, 2, ratelimit.WithClock(fc)) // maxPermits=10
	require.NoError(t, err)

	fc.Advance(2_000_000) // fully idle: stored should clamp to 10
	_ = rl.Stats()

	require.NoError(t, rl.SetRate(10)) // maxPermits becomes 20
	stats := rl.Stats()
	assert.InDelta(t, 20.0, stats.MaxPermits, 1e-9)
	assert.InDelta(t, 20.0, stats.StoredPermits, 1e-9) // 10 * 20/10
}

func TestConstructorValidation(t *testing.T) {
	_, err := ratelimit.NewSmoothBursty(5, 0)
	assert.ErrorIs(t, err, ratelimit.ErrInvalidMaxBurstSeconds)

	_, err = ratelimit.NewSmoothWarmingUp(5, 0, 3)
	assert.ErrorIs(t, err, ratelimit.ErrInvalidWarmupPeriod)

	_, err = ratelimit.NewSmoothWarmingUp(5, 1, 0.5)
	assert.ErrorIs(t, err, ratelimit.ErrInvalidColdFactor)

	rl, err := ratelimit.NewSmoothBursty(5, 1)
	require.NoError(t, err)
	_, err = rl.Acquire(context.Background(), 0)
	assert.ErrorIs(t, err, ratelimit.ErrInvalidPermits)

	assert.ErrorIs(t, rl.SetRate(-1), ratelimit.ErrInvalidRate)
	assert.ErrorIs(t, rl.SetRate(math.Inf(1)), ratelimit.ErrInvalidRate)
}

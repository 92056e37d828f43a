package ratelimit

import (
	"math"
)

// warmingUpPolicy implements the SmoothWarmingUp mode: after idling,
// the bucket is full ("cold") and serves at 1/coldInterval; as
// permits below thresholdPermits are consumed... no — permits
// *above* thresholdPermits cost more, tapering linearly down to
// stableInterval as stored drains to thresholdPermits. Below
// thresholdPermits every permit costs exactly stableInterval.
type warmingUpPolicy struct {
	warmupPeriodMicros float64
	coldFactor         float64

	max       float64
	threshold float64
	slope     float64
}

func (p *warmingUpPolicy) maxPermits() float64 { return p.max }

func (p *warmingUpPolicy) coolDownIntervalMicros(stableIntervalMicros float64) float64 {
	// Idle time refills the bucket from empty to full in exactly
	// warmupPeriodMicros, restoring the cold state.
	return p.warmupPeriodMicros / p.max
}

// permitsToTime is the cost, in microseconds, of serving the permit at
// offset x above thresholdPermits: a line from (0, stableInterval) to
// (max-threshold, coldInterval).
func (p *warmingUpPolicy) permitsToTime(stableIntervalMicros, x float64) float64 {
	return stableIntervalMicros + x*p.slope
}

func (p *warmingUpPolicy) storedPermitsToWaitTime(stableIntervalMicros, stored, take float64) int64 {
	aboveThreshold := math.Max(0, stored-p.threshold)
	takeAbove := math.Min(aboveThreshold, take)

	areaAbove := takeAbove * (p.permitsToTime(stableIntervalMicros, aboveThreshold) +
		p.permitsToTime(stableIntervalMicros, aboveThreshold-takeAbove)) / 2
	areaBelow := (take - takeAbove) * stableIntervalMicros

	return int64(math.Trunc(areaAbove)) + int64(math.Trunc(areaBelow))
}

func (p *warmingUpPolicy) onRateChanged(newStableIntervalMicros, oldStored float64) float64 {
	oldMax := p.max
	coldIntervalMicros := newStableIntervalMicros * p.coldFactor
	threshold := 0.5 * p.warmupPeriodMicros / newStableIntervalMicros
	// maxPermits is fixed so draining the bucket from completely full
	// to empty costs exactly warmupPeriodMicros: integrating
	// permitsToTime from 0 to (max-threshold) gives
	// (max-threshold)*(stable+cold)/2 = warmupPeriodMicros/2 for the
	// taper above the threshold, and the threshold permits below it
	// cost threshold*stable = warmupPeriodMicros/2.
	maxPermits := threshold + p.warmupPeriodMicros/(newStableIntervalMicros+coldIntervalMicros)
	slope := (coldIntervalMicros - newStableIntervalMicros) / (maxPermits - threshold)

	p.threshold = threshold
	p.max = maxPermits
	p.slope = slope

	switch {
	case math.IsInf(oldMax, 1):
		return 0
	case oldMax == 0:
		// Cold start: the bucket begins full, i.e. COLD. Early callers
		// pay the ramp-up cost before settling at the stable rate.
		return maxPermits
	default:
		return oldStored * maxPermits / oldMax
	}
}

// NewSmoothWarmingUp builds a limiter that serves at rate permits/sec
// once warm, but starts (and returns to, after idling for
// warmupPeriod) a cold state that serves at 1/(stableInterval *
// coldFactor), ramping linearly back to the stable rate as its bucket
// drains.
func NewSmoothWarmingUp(rate float64, warmupPeriod float64, coldFactor float64, opts ...Option) (*RateLimiter, error) {
	if warmupPeriod <= 0 {
		return nil, ErrInvalidWarmupPeriod
	}
	if coldFactor < 1 {
		return nil, ErrInvalidColdFactor
	}
	cfg := newOptions(opts)
	p := &warmingUpPolicy{
		warmupPeriodMicros: warmupPeriod,
		coldFactor:         coldFactor,
		max:                0,
	}
	return newRateLimiter(rate, p, cfg.clock, cfg.logger)
}

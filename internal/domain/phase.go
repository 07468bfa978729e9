package domain

import (
	"math"
	"time"
)

// Phase is one pricing window in the release schedule. The schedule skeleton
// (index, rate, capacity, duration) is created in bulk at catalog setup and
// never changes; Active, Paused, Sold and the timer fields are mutated only
// through the phase engine, with Version guarding every write.
type Phase struct {
	ID              string
	Index           int // 1-based, strictly increasing activation order
	RateCents       Cents
	Capacity        int
	Sold            int
	StartTime       time.Time
	Duration        time.Duration
	PausedTotal     time.Duration // pause credit added to the effective end
	Active          bool
	Paused          bool
	PausedAt        *time.Time
	IncreasePercent float64 // increase percent recorded at creation
	Version         int64
	CreatedAt       time.Time
}

// Multiplier computes the compounding price factor for a phase index:
// (1 + percent/100)^(index-1). Index 1 always yields 1.0.
func Multiplier(index int, percent float64) float64 {
	if index <= 1 {
		return 1.0
	}
	return math.Pow(1+percent/100, float64(index-1))
}

// PriceFor is the price formula: rate * score * multiplier, rounded half-up
// to a cent. Pure; the only place float math touches money.
func PriceFor(rate Cents, score int, multiplier float64) Cents {
	return (rate * Cents(score)).MulRound(multiplier)
}

// EndTime is the effective end of the phase: start + duration + accumulated
// pause credit. Meaningful only while the phase is active.
func (p Phase) EndTime() time.Time {
	return p.StartTime.Add(p.Duration + p.PausedTotal)
}

// Remaining returns the time left on the phase countdown at the given
// instant. While paused the countdown is frozen at the pause point. Never
// negative.
func (p Phase) Remaining(now time.Time) time.Duration {
	ref := now
	if p.Paused && p.PausedAt != nil {
		ref = *p.PausedAt
	}
	left := p.EndTime().Sub(ref)
	if left < 0 {
		return 0
	}
	return left
}

// SoldOut reports whether the phase has no capacity left.
func (p Phase) SoldOut() bool {
	return p.Sold >= p.Capacity
}

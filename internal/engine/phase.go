// Package engine holds the two state machines at the heart of the
// marketplace: the release phase engine that prices the drop, and the offer
// engine that rules resale negotiation. Both are pure per call: they
// validate a transition over in-memory copies and return the next state; the
// service layer commits it with a version- or status-guarded write.
package engine

import (
	"math"
	"sync/atomic"

	"github.com/mintforge/dropmarket/internal/domain"
)

// PhaseEngine is the single authority on phase transitions and pricing. The
// global increase percent is its only mutable state, held in one atomic word
// so price readers never block the admin updating it.
type PhaseEngine struct {
	clock domain.Clock
	rate  atomic.Uint64 // float64 bits of the increase percent
}

// NewPhaseEngine creates a PhaseEngine with the given clock and initial
// increase percent.
func NewPhaseEngine(clock domain.Clock, increasePercent float64) *PhaseEngine {
	e := &PhaseEngine{clock: clock}
	e.rate.Store(math.Float64bits(increasePercent))
	return e
}

// IncreaseRate returns the current global increase percent.
func (e *PhaseEngine) IncreaseRate() float64 {
	return math.Float64frombits(e.rate.Load())
}

// SetIncreaseRate updates the global increase percent. The new rate applies
// to every subsequent price computation; already-sold items keep their
// snapshot price.
func (e *PhaseEngine) SetIncreaseRate(percent float64) error {
	if percent < 0 || math.IsNaN(percent) || math.IsInf(percent, 0) {
		return domain.ErrInvalidAmount
	}
	e.rate.Store(math.Float64bits(percent))
	return nil
}

// Multiplier returns the compounding factor for a phase index under the
// current increase percent.
func (e *PhaseEngine) Multiplier(index int) float64 {
	return domain.Multiplier(index, e.IncreaseRate())
}

// CurrentPrice computes what an item with the given score costs under the
// active phase: rate * score * multiplier(index). Deterministic and
// side-effect free.
func (e *PhaseEngine) CurrentPrice(p domain.Phase, score int) (domain.Cents, error) {
	if !p.Active {
		return 0, domain.ErrInvalidTransition
	}
	if score < 0 || score > domain.MaxScore {
		return 0, domain.ErrInvalidAmount
	}
	return domain.PriceFor(p.RateCents, score, e.Multiplier(p.Index)), nil
}

// Pause freezes the active phase's countdown. Valid only on an active,
// unpaused phase.
func (e *PhaseEngine) Pause(p domain.Phase) (domain.Phase, error) {
	if !p.Active || p.Paused {
		return domain.Phase{}, domain.ErrInvalidTransition
	}
	now := e.clock.Now()
	p.Paused = true
	p.PausedAt = &now
	return p, nil
}

// Resume unfreezes a paused phase, crediting the full paused duration back
// to the effective end time.
func (e *PhaseEngine) Resume(p domain.Phase) (domain.Phase, error) {
	if !p.Active || !p.Paused || p.PausedAt == nil {
		return domain.Phase{}, domain.ErrInvalidTransition
	}
	p.PausedTotal += e.clock.Now().Sub(*p.PausedAt)
	p.Paused = false
	p.PausedAt = nil
	return p, nil
}

// ResetTimer restarts the active phase's countdown from now, discarding any
// accumulated pause credit. Used for manual corrections.
func (e *PhaseEngine) ResetTimer(p domain.Phase) (domain.Phase, error) {
	if !p.Active {
		return domain.Phase{}, domain.ErrInvalidTransition
	}
	now := e.clock.Now()
	p.StartTime = now
	p.PausedTotal = 0
	if p.Paused {
		p.PausedAt = &now
	}
	return p, nil
}

// Advance moves the active-phase pointer. cur is nil when no phase is active
// yet; next is nil when the schedule holds no further phase, in which case
// Advance fails with ErrScheduleExhausted and nothing changes. Advancing a
// paused phase is rejected; resume (or reset) first. This is the only
// operation that changes which phase is active; wall-clock expiry never
// advances on its own.
func (e *PhaseEngine) Advance(cur, next *domain.Phase) (deactivated *domain.Phase, activated domain.Phase, err error) {
	if cur != nil && cur.Paused {
		return nil, domain.Phase{}, domain.ErrInvalidTransition
	}
	if next == nil {
		return nil, domain.Phase{}, domain.ErrScheduleExhausted
	}
	if next.Active || (cur != nil && next.Index <= cur.Index) {
		return nil, domain.Phase{}, domain.ErrInvalidTransition
	}

	now := e.clock.Now()

	if cur != nil {
		c := *cur
		c.Active = false
		c.Paused = false
		c.PausedAt = nil
		deactivated = &c
	}

	activated = *next
	activated.Active = true
	activated.StartTime = now
	activated.PausedTotal = 0
	activated.Paused = false
	activated.PausedAt = nil

	return deactivated, activated, nil
}

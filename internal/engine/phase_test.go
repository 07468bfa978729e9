package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintforge/dropmarket/internal/domain"
)

// fakeClock is a manually advanced clock shared by the engine tests.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func schedule(n int) []domain.Phase {
	phases := make([]domain.Phase, n)
	for i := range phases {
		phases[i] = domain.Phase{
			ID:        "phase-" + string(rune('a'+i)),
			Index:     i + 1,
			RateCents: 10,
			Capacity:  2,
			Duration:  time.Hour,
		}
	}
	return phases
}

func TestCurrentPriceFormula(t *testing.T) {
	clock := newFakeClock()
	e := NewPhaseEngine(clock, 10)

	p1 := domain.Phase{Index: 1, RateCents: 10, Active: true}

	// $0.10 * 400 * 1.0 = $40.00
	price, err := e.CurrentPrice(p1, 400)
	require.NoError(t, err)
	assert.Equal(t, domain.Cents(4000), price)

	// Pure: same inputs, same output.
	again, err := e.CurrentPrice(p1, 400)
	require.NoError(t, err)
	assert.Equal(t, price, again)

	// $0.10 * 400 * 1.10 = $44.00
	p2 := domain.Phase{Index: 2, RateCents: 10, Active: true}
	price, err = e.CurrentPrice(p2, 400)
	require.NoError(t, err)
	assert.Equal(t, domain.Cents(4400), price)
}

func TestCurrentPriceRejects(t *testing.T) {
	e := NewPhaseEngine(newFakeClock(), 10)

	_, err := e.CurrentPrice(domain.Phase{Index: 1, RateCents: 10}, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "inactive phase has no price")

	active := domain.Phase{Index: 1, RateCents: 10, Active: true}
	_, err = e.CurrentPrice(active, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = e.CurrentPrice(active, domain.MaxScore+1)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestSetIncreaseRateRepricesFutureQueries(t *testing.T) {
	e := NewPhaseEngine(newFakeClock(), 10)
	p3 := domain.Phase{Index: 3, RateCents: 100, Active: true}

	price, err := e.CurrentPrice(p3, 100)
	require.NoError(t, err)
	assert.Equal(t, domain.Cents(12100), price) // 1.1^2

	require.NoError(t, e.SetIncreaseRate(20))
	price, err = e.CurrentPrice(p3, 100)
	require.NoError(t, err)
	assert.Equal(t, domain.Cents(14400), price) // 1.2^2

	assert.ErrorIs(t, e.SetIncreaseRate(-1), domain.ErrInvalidAmount)
	assert.Equal(t, 20.0, e.IncreaseRate(), "failed update leaves rate untouched")
}

func TestAdvanceThroughSchedule(t *testing.T) {
	clock := newFakeClock()
	e := NewPhaseEngine(clock, 10)
	phases := schedule(3)

	// {NoActivePhase} -> Phase1.
	deact, act, err := e.Advance(nil, &phases[0])
	require.NoError(t, err)
	assert.Nil(t, deact)
	assert.True(t, act.Active)
	assert.Equal(t, clock.Now(), act.StartTime)

	cur := act
	for i := 1; i < 3; i++ {
		clock.advance(time.Hour)
		deact, act, err = e.Advance(&cur, &phases[i])
		require.NoError(t, err)
		require.NotNil(t, deact)
		assert.False(t, deact.Active)
		assert.True(t, act.Active)
		assert.Equal(t, i+1, act.Index)
		cur = act
	}

	// Schedule exhausted; no side effects.
	_, _, err = e.Advance(&cur, nil)
	assert.ErrorIs(t, err, domain.ErrScheduleExhausted)
	assert.True(t, cur.Active)
}

func TestAdvanceWhilePausedRejected(t *testing.T) {
	clock := newFakeClock()
	e := NewPhaseEngine(clock, 10)
	phases := schedule(2)

	_, cur, err := e.Advance(nil, &phases[0])
	require.NoError(t, err)

	cur, err = e.Pause(cur)
	require.NoError(t, err)

	_, _, err = e.Advance(&cur, &phases[1])
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestAdvanceRejectsBackwardPointer(t *testing.T) {
	e := NewPhaseEngine(newFakeClock(), 10)
	cur := domain.Phase{Index: 2, Active: true}
	prior := domain.Phase{Index: 1}

	_, _, err := e.Advance(&cur, &prior)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestPauseResumeCreditsTimeBack(t *testing.T) {
	clock := newFakeClock()
	e := NewPhaseEngine(clock, 10)

	_, p, err := e.Advance(nil, &schedule(1)[0])
	require.NoError(t, err)

	clock.advance(10 * time.Minute)
	before := p.Remaining(clock.Now())

	p, err = e.Pause(p)
	require.NoError(t, err)
	assert.True(t, p.Paused)

	// Frozen while paused.
	clock.advance(25 * time.Minute)
	assert.Equal(t, before, p.Remaining(clock.Now()))

	p, err = e.Resume(p)
	require.NoError(t, err)
	assert.False(t, p.Paused)
	assert.Nil(t, p.PausedAt)
	assert.Equal(t, 25*time.Minute, p.PausedTotal)
	assert.Equal(t, before, p.Remaining(clock.Now()), "paused duration fully credited back")
}

func TestPauseResumeInvalidStates(t *testing.T) {
	clock := newFakeClock()
	e := NewPhaseEngine(clock, 10)

	inactive := domain.Phase{Index: 1}
	_, err := e.Pause(inactive)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = e.Resume(inactive)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, p, err := e.Advance(nil, &schedule(1)[0])
	require.NoError(t, err)

	_, err = e.Resume(p)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "resume without pause")

	p, err = e.Pause(p)
	require.NoError(t, err)
	_, err = e.Pause(p)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "double pause")
}

func TestResetTimer(t *testing.T) {
	clock := newFakeClock()
	e := NewPhaseEngine(clock, 10)

	_, p, err := e.Advance(nil, &schedule(1)[0])
	require.NoError(t, err)

	clock.advance(30 * time.Minute)
	p, err = e.Pause(p)
	require.NoError(t, err)
	clock.advance(5 * time.Minute)
	p, err = e.Resume(p)
	require.NoError(t, err)

	clock.advance(10 * time.Minute)
	p, err = e.ResetTimer(p)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), p.StartTime)
	assert.Zero(t, p.PausedTotal)
	assert.Equal(t, p.Duration, p.Remaining(clock.Now()))
}

func TestMultiplierBase(t *testing.T) {
	assert.Equal(t, 1.0, domain.Multiplier(1, 10))
	assert.InDelta(t, 1.1, domain.Multiplier(2, 10), 1e-12)
	assert.InDelta(t, 1.21, domain.Multiplier(3, 10), 1e-12)
	assert.Equal(t, 1.0, domain.Multiplier(5, 0), "zero percent never compounds")
}

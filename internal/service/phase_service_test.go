package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintforge/dropmarket/internal/domain"
	"github.com/mintforge/dropmarket/internal/engine"
)

func seedSchedule(t *testing.T, db *memDB, n int) {
	t.Helper()
	phases := make([]domain.Phase, 0, n)
	for i := 1; i <= n; i++ {
		phases = append(phases, domain.Phase{
			ID:              fmt.Sprintf("phase-%d", i),
			Index:           i,
			RateCents:       10, // $0.10 per score point
			Capacity:        100,
			Duration:        time.Hour,
			IncreasePercent: 10,
		})
	}
	for _, p := range phases {
		db.phases[p.ID] = p
	}
}

func newPhaseService(t *testing.T, clock *fakeClock, db *memDB) *PhaseService {
	t.Helper()
	eng := engine.NewPhaseEngine(clock, 10)
	return NewPhaseService(
		&memPhaseStore{db: db}, &memItemStore{db: db},
		nil, nil, eng, nil, &memAuditStore{db: db}, nil,
		clock, discardLogger(),
	)
}

func TestAdvanceActivatesFirstPhase(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	seedSchedule(t, db, 2)
	svc := newPhaseService(t, clock, db)

	status, err := svc.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Index)
	assert.InDelta(t, 1.0, status.Multiplier, 1e-9)

	active, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, active.Index)
	assert.Equal(t, time.Duration(3600), active.Remaining)
}

func TestAdvanceConsumesScheduleThenExhausts(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	seedSchedule(t, db, 3)
	svc := newPhaseService(t, clock, db)

	for want := 1; want <= 3; want++ {
		status, err := svc.Advance(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, status.Index)
		clock.advance(time.Minute)
	}

	_, err := svc.Advance(context.Background())
	require.ErrorIs(t, err, domain.ErrScheduleExhausted)

	// The last phase stays active after a failed advance.
	status, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, status.Index)
}

func TestAdvanceSkipsDeactivatedPhases(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	seedSchedule(t, db, 3)
	svc := newPhaseService(t, clock, db)

	_, err := svc.Advance(context.Background())
	require.NoError(t, err)
	_, err = svc.Advance(context.Background())
	require.NoError(t, err)

	// Phase 1 was activated once; it must never come back.
	p1, err := (&memPhaseStore{db: db}).GetByIndex(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, p1.Active)
	assert.False(t, p1.StartTime.IsZero())
}

func TestPauseFreezesCountdown(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	seedSchedule(t, db, 1)
	svc := newPhaseService(t, clock, db)

	_, err := svc.Advance(context.Background())
	require.NoError(t, err)

	clock.advance(20 * time.Minute)
	status, err := svc.Pause(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Paused)
	frozen := status.Remaining

	clock.advance(2 * time.Hour)
	status, err = svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frozen, status.Remaining)

	status, err = svc.Resume(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Paused)
	assert.Equal(t, frozen, status.Remaining)
}

func TestPauseWithoutActivePhase(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	svc := newPhaseService(t, clock, db)

	_, err := svc.Pause(context.Background())
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestAdvanceWhilePausedRejected(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	seedSchedule(t, db, 2)
	svc := newPhaseService(t, clock, db)

	_, err := svc.Advance(context.Background())
	require.NoError(t, err)
	_, err = svc.Pause(context.Background())
	require.NoError(t, err)

	_, err = svc.Advance(context.Background())
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestResetTimerRestartsCountdown(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	seedSchedule(t, db, 1)
	svc := newPhaseService(t, clock, db)

	_, err := svc.Advance(context.Background())
	require.NoError(t, err)

	clock.advance(45 * time.Minute)
	status, err := svc.ResetTimer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Duration(3600), status.Remaining)
}

func TestQuotePricesAgainstActivePhase(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	seedSchedule(t, db, 2)
	db.items["item-1"] = domain.Item{ID: "item-1", Score: 400, Status: domain.ItemStatusAvailable}
	svc := newPhaseService(t, clock, db)

	_, err := svc.Advance(context.Background())
	require.NoError(t, err)

	price, err := svc.Quote(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Cents(4000), price) // $0.10 * 400 * 1.0

	_, err = svc.Advance(context.Background())
	require.NoError(t, err)

	price, err = svc.Quote(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Cents(4400), price) // * 1.10
}

func TestSetIncreaseRateValidation(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	svc := newPhaseService(t, clock, db)

	require.NoError(t, svc.SetIncreaseRate(context.Background(), 25))
	require.ErrorIs(t, svc.SetIncreaseRate(context.Background(), -5), domain.ErrInvalidAmount)
}

func TestSetIncreaseRatePropagatesAcrossProcesses(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	seedSchedule(t, db, 2)
	db.items["itm-1"] = domain.Item{ID: "itm-1", Score: 400, Status: domain.ItemStatusAvailable}

	bus := &memBus{}
	svcA := NewPhaseService(
		&memPhaseStore{db: db}, &memItemStore{db: db},
		nil, nil, engine.NewPhaseEngine(clock, 10), bus, &memAuditStore{db: db}, nil,
		clock, discardLogger(),
	)
	_, err := svcA.Advance(context.Background())
	require.NoError(t, err)
	_, err = svcA.Advance(context.Background())
	require.NoError(t, err)

	quote, err := svcA.Quote(context.Background(), "itm-1")
	require.NoError(t, err)
	require.Equal(t, domain.Cents(4400), quote, "phase 2 at 10 percent")

	require.NoError(t, svcA.SetIncreaseRate(context.Background(), 25))

	// A sibling process constructs its engine from the persisted percent,
	// not the configured default it booted with.
	percent, err := (&memPhaseStore{db: db}).IncreasePercent(context.Background())
	require.NoError(t, err)
	svcB := newPhaseServiceWithPercent(t, clock, db, percent)

	quoteA, err := svcA.Quote(context.Background(), "itm-1")
	require.NoError(t, err)
	quoteB, err := svcB.Quote(context.Background(), "itm-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Cents(5000), quoteA)
	assert.Equal(t, quoteA, quoteB, "both processes quote the new rate")

	// Running processes hear about the change on the phases channel.
	var announced struct {
		Event   string  `json:"event"`
		Percent float64 `json:"percent"`
	}
	require.NotEmpty(t, bus.sent)
	last := bus.sent[len(bus.sent)-1]
	assert.Equal(t, "phases", last.channel)
	require.NoError(t, json.Unmarshal(last.payload, &announced))
	assert.Equal(t, "increase_rate_set", announced.Event)
	assert.Equal(t, 25.0, announced.Percent)
}

func newPhaseServiceWithPercent(t *testing.T, clock *fakeClock, db *memDB, percent float64) *PhaseService {
	t.Helper()
	return NewPhaseService(
		&memPhaseStore{db: db}, &memItemStore{db: db},
		nil, nil, engine.NewPhaseEngine(clock, percent), nil, &memAuditStore{db: db}, nil,
		clock, discardLogger(),
	)
}

func TestTransitionsWriteAudit(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	seedSchedule(t, db, 1)
	svc := newPhaseService(t, clock, db)

	_, err := svc.Advance(context.Background())
	require.NoError(t, err)
	_, err = svc.Pause(context.Background())
	require.NoError(t, err)

	entries, err := (&memAuditStore{db: db}).List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "phase_advanced", entries[0].Event)
	assert.Equal(t, "phase_paused", entries[1].Event)
}

// Package service is the orchestration layer: it translates engine
// decisions into durable writes, cache updates, audit rows and outbound
// notifications. Services are the only code that talks to stores and
// external collaborators; the engines stay pure.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mintforge/dropmarket/internal/domain"
	"github.com/mintforge/dropmarket/internal/engine"
	"github.com/mintforge/dropmarket/internal/notify"
)

// PhaseStatus is the public view of the release schedule state.
type PhaseStatus struct {
	Index      int           `json:"index"`
	Multiplier float64       `json:"multiplier"`
	Remaining  time.Duration `json:"remaining_seconds"`
	Paused     bool          `json:"paused"`
	Sold       int           `json:"sold"`
	Capacity   int           `json:"capacity"`
}

// PhaseService drives the release schedule: status reads, price quotes, and
// the admin transitions (pause/resume/advance/reset/rate). Every write is a
// version-guarded update; a lost race surfaces as domain.ErrConflict for the
// caller to retry with fresh state.
type PhaseService struct {
	phases   domain.PhaseStore
	items    domain.ItemStore
	cache    domain.PhaseCache
	prices   domain.PriceCache
	engine   *engine.PhaseEngine
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	clock    domain.Clock
	logger   *slog.Logger
}

// NewPhaseService creates a PhaseService with all required dependencies.
func NewPhaseService(
	phases domain.PhaseStore,
	items domain.ItemStore,
	cache domain.PhaseCache,
	prices domain.PriceCache,
	eng *engine.PhaseEngine,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	clock domain.Clock,
	logger *slog.Logger,
) *PhaseService {
	return &PhaseService{
		phases:   phases,
		items:    items,
		cache:    cache,
		prices:   prices,
		engine:   eng,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}
}

// activePhase returns the active phase, preferring the cache. Cache misses
// and errors fall through to the store; domain.ErrNotFound means no phase is
// active.
func (s *PhaseService) activePhase(ctx context.Context) (domain.Phase, error) {
	if s.cache != nil {
		if p, err := s.cache.Active(ctx); err == nil {
			return p, nil
		}
	}

	p, err := s.phases.Active(ctx)
	if err != nil {
		return domain.Phase{}, err
	}
	s.refreshCache(ctx, p)
	return p, nil
}

func (s *PhaseService) refreshCache(ctx context.Context, p domain.Phase) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetActive(ctx, p); err != nil {
		s.logger.WarnContext(ctx, "phase_service: cache refresh failed",
			slog.Int("index", p.Index),
			slog.String("error", err.Error()),
		)
	}
}

// Status returns the current phase view. ErrNotFound means the schedule has
// not started or is exhausted.
func (s *PhaseService) Status(ctx context.Context) (PhaseStatus, error) {
	p, err := s.activePhase(ctx)
	if err != nil {
		return PhaseStatus{}, fmt.Errorf("phase_service: status: %w", err)
	}

	return PhaseStatus{
		Index:      p.Index,
		Multiplier: s.engine.Multiplier(p.Index),
		Remaining:  p.Remaining(s.clock.Now()) / time.Second,
		Paused:     p.Paused,
		Sold:       p.Sold,
		Capacity:   p.Capacity,
	}, nil
}

// Quote computes what an item costs right now under the active phase. The
// result is cached per item but never authoritative; the purchase path
// recomputes against store state.
func (s *PhaseService) Quote(ctx context.Context, itemID string) (domain.Cents, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("phase_service: quote item %q: %w", itemID, err)
	}

	p, err := s.activePhase(ctx)
	if err != nil {
		return 0, fmt.Errorf("phase_service: quote: %w", err)
	}

	price, err := s.engine.CurrentPrice(p, item.Score)
	if err != nil {
		return 0, fmt.Errorf("phase_service: quote: %w", err)
	}

	if s.prices != nil {
		if err := s.prices.SetPrice(ctx, itemID, price, s.clock.Now()); err != nil {
			s.logger.WarnContext(ctx, "phase_service: price cache write failed",
				slog.String("item_id", itemID),
				slog.String("error", err.Error()),
			)
		}
	}

	return price, nil
}

// Pause freezes the active phase countdown.
func (s *PhaseService) Pause(ctx context.Context) (PhaseStatus, error) {
	return s.transition(ctx, "phase_paused", notify.EventPhasePaused, s.engine.Pause)
}

// Resume unfreezes a paused phase, crediting the paused duration back.
func (s *PhaseService) Resume(ctx context.Context) (PhaseStatus, error) {
	return s.transition(ctx, "phase_resumed", notify.EventPhaseResumed, s.engine.Resume)
}

// ResetTimer restarts the active phase countdown from now.
func (s *PhaseService) ResetTimer(ctx context.Context) (PhaseStatus, error) {
	return s.transition(ctx, "phase_timer_reset", "", s.engine.ResetTimer)
}

// transition loads authoritative state, applies the engine rule, and commits
// with the version guard.
func (s *PhaseService) transition(
	ctx context.Context,
	auditEvent, notifyEvent string,
	apply func(domain.Phase) (domain.Phase, error),
) (PhaseStatus, error) {
	cur, err := s.phases.Active(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return PhaseStatus{}, domain.ErrInvalidTransition
		}
		return PhaseStatus{}, fmt.Errorf("phase_service: load active phase: %w", err)
	}

	next, err := apply(cur)
	if err != nil {
		return PhaseStatus{}, err
	}

	if err := s.phases.Update(ctx, next); err != nil {
		return PhaseStatus{}, fmt.Errorf("phase_service: %s: %w", auditEvent, err)
	}
	next.Version++
	s.refreshCache(ctx, next)

	s.record(ctx, auditEvent, map[string]any{
		"index":  next.Index,
		"paused": next.Paused,
	})
	s.publish(ctx, map[string]any{
		"event":  auditEvent,
		"index":  next.Index,
		"paused": next.Paused,
	})
	if notifyEvent != "" && s.notifier != nil {
		_ = s.notifier.Notify(ctx, notifyEvent,
			fmt.Sprintf("Phase %d %s", next.Index, auditEvent),
			fmt.Sprintf("phase %d is now paused=%v", next.Index, next.Paused))
	}

	s.logger.InfoContext(ctx, "phase_service: "+auditEvent,
		slog.Int("index", next.Index),
	)

	return PhaseStatus{
		Index:      next.Index,
		Multiplier: s.engine.Multiplier(next.Index),
		Remaining:  next.Remaining(s.clock.Now()) / time.Second,
		Paused:     next.Paused,
		Sold:       next.Sold,
		Capacity:   next.Capacity,
	}, nil
}

// Advance moves the schedule to the next phase. The first call activates
// phase 1; once the schedule is consumed it fails with ErrScheduleExhausted
// and changes nothing.
func (s *PhaseService) Advance(ctx context.Context) (PhaseStatus, error) {
	var cur *domain.Phase
	active, err := s.phases.Active(ctx)
	switch {
	case err == nil:
		cur = &active
	case errors.Is(err, domain.ErrNotFound):
		// Nothing active yet: the first advance starts the schedule.
	default:
		return PhaseStatus{}, fmt.Errorf("phase_service: load active phase: %w", err)
	}

	lastIndex := 0
	if cur != nil {
		lastIndex = cur.Index
	}

	var next *domain.Phase
	candidate, err := s.phases.NextAfter(ctx, lastIndex)
	switch {
	case err == nil:
		next = &candidate
	case errors.Is(err, domain.ErrNotFound):
		// Exhausted; the engine reports it after validating cur.
	default:
		return PhaseStatus{}, fmt.Errorf("phase_service: load next phase: %w", err)
	}

	deactivated, activated, err := s.engine.Advance(cur, next)
	if err != nil {
		return PhaseStatus{}, err
	}

	if err := s.phases.Swap(ctx, deactivated, activated); err != nil {
		return PhaseStatus{}, fmt.Errorf("phase_service: advance: %w", err)
	}
	activated.Version++
	s.refreshCache(ctx, activated)

	s.record(ctx, "phase_advanced", map[string]any{
		"from": lastIndex,
		"to":   activated.Index,
	})
	s.publish(ctx, map[string]any{
		"event":      "phase_advanced",
		"index":      activated.Index,
		"multiplier": s.engine.Multiplier(activated.Index),
	})
	if s.notifier != nil {
		_ = s.notifier.Notify(ctx, notify.EventPhaseAdvanced,
			fmt.Sprintf("Phase %d active", activated.Index),
			fmt.Sprintf("multiplier %.4f, capacity %d", s.engine.Multiplier(activated.Index), activated.Capacity))
	}

	s.logger.InfoContext(ctx, "phase_service: advanced",
		slog.Int("from", lastIndex),
		slog.Int("to", activated.Index),
	)

	return PhaseStatus{
		Index:      activated.Index,
		Multiplier: s.engine.Multiplier(activated.Index),
		Remaining:  activated.Remaining(s.clock.Now()) / time.Second,
		Sold:       activated.Sold,
		Capacity:   activated.Capacity,
	}, nil
}

// SetIncreaseRate updates the global increase percent. Future price queries
// see it immediately; sold items keep their snapshots.
func (s *PhaseService) SetIncreaseRate(ctx context.Context, percent float64) error {
	if err := s.engine.SetIncreaseRate(percent); err != nil {
		return err
	}
	// Durable first, broadcast second. Other processes pick the new percent
	// up from the bus, and a restart re-seeds its engine from this row.
	if err := s.phases.SetIncreasePercent(ctx, percent); err != nil {
		return fmt.Errorf("phase_service: persist increase rate: %w", err)
	}

	s.record(ctx, "increase_rate_set", map[string]any{"percent": percent})
	s.publish(ctx, map[string]any{
		"event":   "increase_rate_set",
		"percent": percent,
	})

	s.logger.InfoContext(ctx, "phase_service: increase rate set",
		slog.Float64("percent", percent),
	)
	return nil
}

// SeedSchedule inserts the immutable schedule skeleton. Setup-time only.
func (s *PhaseService) SeedSchedule(ctx context.Context, phases []domain.Phase) error {
	if err := s.phases.CreateBatch(ctx, phases); err != nil {
		return fmt.Errorf("phase_service: seed schedule: %w", err)
	}
	s.logger.InfoContext(ctx, "phase_service: schedule seeded",
		slog.Int("phases", len(phases)),
	)
	return nil
}

// List returns the full schedule.
func (s *PhaseService) List(ctx context.Context) ([]domain.Phase, error) {
	phases, err := s.phases.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("phase_service: list: %w", err)
	}
	return phases, nil
}

func (s *PhaseService) record(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "phase_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PhaseService) publish(ctx context.Context, payload map[string]any) {
	if s.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, "phases", data); err != nil {
		s.logger.WarnContext(ctx, "phase_service: publish failed",
			slog.String("error", err.Error()),
		)
	}
}

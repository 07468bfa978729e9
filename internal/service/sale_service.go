package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mintforge/dropmarket/internal/domain"
	"github.com/mintforge/dropmarket/internal/engine"
	"github.com/mintforge/dropmarket/internal/notify"
)

// SaleResult reports a committed primary sale.
type SaleResult struct {
	ItemID     string       `json:"item_id"`
	BuyerRef   string       `json:"buyer_ref"`
	PhaseIndex int          `json:"phase_index"`
	PriceCents domain.Cents `json:"price_cents"`
}

// SaleService handles primary drop sales. The price shown to a buyer is only
// binding at the moment of sale: Purchase re-reads the authoritative phase
// row, recomputes the price, and commits the capacity increment and item
// transition in one conditional transaction.
type SaleService struct {
	items    domain.ItemStore
	phases   domain.PhaseStore
	cache    domain.PhaseCache
	prices   domain.PriceCache
	engine   *engine.PhaseEngine
	settler  domain.Settler
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	clock    domain.Clock
	logger   *slog.Logger
}

// NewSaleService creates a SaleService with all required dependencies.
func NewSaleService(
	items domain.ItemStore,
	phases domain.PhaseStore,
	cache domain.PhaseCache,
	prices domain.PriceCache,
	eng *engine.PhaseEngine,
	settler domain.Settler,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	clock domain.Clock,
	logger *slog.Logger,
) *SaleService {
	return &SaleService{
		items:    items,
		phases:   phases,
		cache:    cache,
		prices:   prices,
		engine:   eng,
		settler:  settler,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}
}

// Purchase sells an available item to buyerRef at the current phase price.
// A paused phase sells nothing; a full phase fails with
// ErrCapacityExhausted until an admin advances the schedule.
func (s *SaleService) Purchase(ctx context.Context, itemID, buyerRef string) (SaleResult, error) {
	if buyerRef == "" {
		return SaleResult{}, domain.ErrInvalidAmount
	}

	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return SaleResult{}, fmt.Errorf("sale_service: get item %q: %w", itemID, err)
	}
	if item.Status != domain.ItemStatusAvailable {
		return SaleResult{}, domain.ErrInvalidTransition
	}

	// Authoritative re-read; the cached snapshot is never trusted for money.
	phase, err := s.phases.Active(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return SaleResult{}, domain.ErrInvalidTransition
		}
		return SaleResult{}, fmt.Errorf("sale_service: load active phase: %w", err)
	}
	if phase.Paused {
		return SaleResult{}, domain.ErrInvalidTransition
	}

	price, err := s.engine.CurrentPrice(phase, item.Score)
	if err != nil {
		return SaleResult{}, err
	}

	err = s.items.Purchase(ctx, domain.PurchaseParams{
		ItemID:     itemID,
		PhaseID:    phase.ID,
		BuyerRef:   buyerRef,
		PriceCents: price,
	})
	if err != nil {
		return SaleResult{}, fmt.Errorf("sale_service: purchase %q: %w", itemID, err)
	}

	// Post-commit bookkeeping: best effort, the sale stands regardless.
	phase.Sold++
	phase.Version++
	if s.cache != nil {
		if cacheErr := s.cache.SetActive(ctx, phase); cacheErr != nil {
			s.logger.WarnContext(ctx, "sale_service: phase cache refresh failed",
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	if s.prices != nil {
		_ = s.prices.SetPrice(ctx, itemID, price, s.clock.Now())
	}

	if s.settler != nil {
		if settleErr := s.settler.RecordSale(ctx, domain.SaleReceipt{
			Kind:        domain.SaleKindPrimary,
			ItemID:      itemID,
			BuyerRef:    buyerRef,
			AmountCents: price,
			OccurredAt:  s.clock.Now(),
		}); settleErr != nil {
			s.logger.ErrorContext(ctx, "sale_service: settlement notify failed",
				slog.String("item_id", itemID),
				slog.String("error", settleErr.Error()),
			)
		}
	}

	if s.audit != nil {
		if auditErr := s.audit.Log(ctx, "sale_completed", map[string]any{
			"item_id":     itemID,
			"buyer_ref":   buyerRef,
			"phase_index": phase.Index,
			"price_cents": int64(price),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "sale_service: audit log failed",
				slog.String("item_id", itemID),
				slog.String("error", auditErr.Error()),
			)
		}
	}

	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":       "sale_completed",
			"item_id":     itemID,
			"phase_index": phase.Index,
			"price_cents": int64(price),
		})
		if pubErr := s.bus.Publish(ctx, "sales", evt); pubErr != nil {
			s.logger.WarnContext(ctx, "sale_service: publish failed",
				slog.String("error", pubErr.Error()),
			)
		}
	}

	if s.notifier != nil {
		_ = s.notifier.Notify(ctx, notify.EventSaleCompleted,
			"Item sold",
			fmt.Sprintf("item %s sold in phase %d for %s", itemID, phase.Index, price))
	}

	s.logger.InfoContext(ctx, "sale_service: sale completed",
		slog.String("item_id", itemID),
		slog.Int("phase_index", phase.Index),
		slog.Int64("price_cents", int64(price)),
	)

	return SaleResult{
		ItemID:     itemID,
		BuyerRef:   buyerRef,
		PhaseIndex: phase.Index,
		PriceCents: price,
	}, nil
}

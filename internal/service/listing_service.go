package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mintforge/dropmarket/internal/domain"
	"github.com/mintforge/dropmarket/internal/notify"
)

// ListingService manages fixed-price resale listings. Creating a listing
// moves the item from sold to listed; cancelling reverses it and rejects
// every live offer, both inside a single store transaction.
type ListingService struct {
	listings domain.ListingStore
	items    domain.ItemStore
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	clock    domain.Clock
	logger   *slog.Logger
}

// NewListingService creates a ListingService.
func NewListingService(
	listings domain.ListingStore,
	items domain.ItemStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	clock domain.Clock,
	logger *slog.Logger,
) *ListingService {
	return &ListingService{
		listings: listings,
		items:    items,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}
}

// Create opens a resale listing for an item the seller owns. The item must
// be in the sold state; an item with an open listing cannot be listed again.
func (s *ListingService) Create(ctx context.Context, itemID, sellerRef string, price domain.Cents) (domain.Listing, error) {
	if price <= 0 {
		return domain.Listing{}, domain.ErrInvalidAmount
	}

	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: get item %q: %w", itemID, err)
	}
	if !item.OwnedBy(sellerRef) {
		return domain.Listing{}, domain.ErrUnauthorized
	}
	if item.Status != domain.ItemStatusSold {
		return domain.Listing{}, domain.ErrInvalidTransition
	}

	listing := domain.Listing{
		ID:         uuid.NewString(),
		ItemID:     itemID,
		SellerRef:  sellerRef,
		PriceCents: price,
		Status:     domain.ListingStatusOpen,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.listings.Create(ctx, listing); err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: create listing for %q: %w", itemID, err)
	}

	s.record(ctx, "listing_created", map[string]any{
		"listing_id":  listing.ID,
		"item_id":     itemID,
		"seller_ref":  sellerRef,
		"price_cents": int64(price),
	})
	s.publish(ctx, "listing_created", listing)
	return listing, nil
}

// Cancel closes an open listing. Only the seller may cancel; every live
// offer on the listing is rejected and the item returns to the sold state.
func (s *ListingService) Cancel(ctx context.Context, listingID, sellerRef string) (domain.Listing, error) {
	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: get listing %q: %w", listingID, err)
	}
	if listing.SellerRef != sellerRef {
		return domain.Listing{}, domain.ErrUnauthorized
	}
	if !listing.Open() {
		return domain.Listing{}, domain.ErrInvalidTransition
	}

	if err := s.listings.Cancel(ctx, listingID); err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: cancel %q: %w", listingID, err)
	}

	listing.Status = domain.ListingStatusCancelled
	now := s.clock.Now()
	listing.ClosedAt = &now

	s.record(ctx, "listing_cancelled", map[string]any{
		"listing_id": listingID,
		"item_id":    listing.ItemID,
	})
	s.publish(ctx, "listing_cancelled", listing)
	return listing, nil
}

// Get returns one listing.
func (s *ListingService) Get(ctx context.Context, listingID string) (domain.Listing, error) {
	return s.listings.GetByID(ctx, listingID)
}

// ListOpen returns open listings, newest first.
func (s *ListingService) ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	return s.listings.ListOpen(ctx, opts)
}

func (s *ListingService) record(ctx context.Context, action string, details map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, action, details); err != nil {
		s.logger.WarnContext(ctx, "listing_service: audit log failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ListingService) publish(ctx context.Context, event string, listing domain.Listing) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":       event,
		"listing_id":  listing.ID,
		"item_id":     listing.ItemID,
		"price_cents": int64(listing.PriceCents),
		"status":      string(listing.Status),
		"at":          s.clock.Now().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, "offers", payload); err != nil {
		s.logger.WarnContext(ctx, "listing_service: publish failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

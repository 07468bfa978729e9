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

const (
	offerSweepLock    = "offer-sweep"
	offerSweepLockTTL = 30 * time.Second
)

// OfferService orchestrates resale offer negotiation. The engine validates
// each transition against an in-memory copy; the store commits it with a
// status predicate so two racing resolutions cannot both win.
type OfferService struct {
	offers   domain.OfferStore
	listings domain.ListingStore
	engine   *engine.OfferEngine
	limiter  domain.RateLimiter
	locks    domain.LockManager
	settler  domain.Settler
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	clock    domain.Clock
	logger   *slog.Logger

	offerTTL      time.Duration
	proposePerMin int
}

// NewOfferService creates an OfferService. offerTTL bounds the lifetime of
// every new offer and counter; proposePerMin caps how many offers a buyer
// may place per minute.
func NewOfferService(
	offers domain.OfferStore,
	listings domain.ListingStore,
	eng *engine.OfferEngine,
	limiter domain.RateLimiter,
	locks domain.LockManager,
	settler domain.Settler,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	clock domain.Clock,
	logger *slog.Logger,
	offerTTL time.Duration,
	proposePerMin int,
) *OfferService {
	if offerTTL <= 0 {
		offerTTL = 48 * time.Hour
	}
	if proposePerMin <= 0 {
		proposePerMin = 30
	}
	return &OfferService{
		offers:        offers,
		listings:      listings,
		engine:        eng,
		limiter:       limiter,
		locks:         locks,
		settler:       settler,
		bus:           bus,
		audit:         audit,
		notifier:      notifier,
		clock:         clock,
		logger:        logger,
		offerTTL:      offerTTL,
		proposePerMin: proposePerMin,
	}
}

// Propose places a new offer from buyerRef on an open listing.
func (s *OfferService) Propose(ctx context.Context, listingID, buyerRef string, amount domain.Cents) (domain.Offer, error) {
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, "offers:"+buyerRef, s.proposePerMin, time.Minute)
		if err != nil {
			s.logger.WarnContext(ctx, "offer_service: rate limiter unavailable",
				slog.String("error", err.Error()),
			)
		} else if !ok {
			return domain.Offer{}, domain.ErrRateLimited
		}
	}

	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("offer_service: get listing %q: %w", listingID, err)
	}

	offer, err := s.engine.Propose(listing, buyerRef, amount, s.offerTTL)
	if err != nil {
		return domain.Offer{}, err
	}
	if err := s.offers.Create(ctx, offer); err != nil {
		return domain.Offer{}, fmt.Errorf("offer_service: create offer: %w", err)
	}

	s.record(ctx, "offer_proposed", map[string]any{
		"offer_id":     offer.ID,
		"listing_id":   listingID,
		"buyer_ref":    buyerRef,
		"amount_cents": int64(amount),
	})
	s.publish(ctx, "offer_proposed", offer)
	return offer, nil
}

// Counter lets the listing's seller reply to a live offer with a new amount.
func (s *OfferService) Counter(ctx context.Context, offerID, sellerRef string, amount domain.Cents) (domain.Offer, error) {
	offer, listing, err := s.load(ctx, offerID)
	if err != nil {
		return domain.Offer{}, err
	}

	countered, err := s.engine.Counter(offer, listing, sellerRef, amount)
	if err != nil {
		return domain.Offer{}, err
	}
	if err := s.offers.Counter(ctx, offerID, amount); err != nil {
		return domain.Offer{}, s.classify(ctx, offerID, err)
	}

	s.record(ctx, "offer_countered", map[string]any{
		"offer_id":      offerID,
		"counter_cents": int64(amount),
	})
	s.publish(ctx, "offer_countered", countered)
	return countered, nil
}

// Accept settles a live offer: the offer is accepted, the listing settles,
// ownership of the item moves to the buyer and every sibling live offer on
// the listing is rejected, all in one transaction.
func (s *OfferService) Accept(ctx context.Context, offerID, sellerRef string) (domain.Offer, error) {
	offer, listing, err := s.load(ctx, offerID)
	if err != nil {
		return domain.Offer{}, err
	}

	accepted, err := s.engine.Accept(offer, listing, sellerRef)
	if err != nil {
		return domain.Offer{}, err
	}
	amount := accepted.SettlementAmount()

	err = s.offers.Accept(ctx, domain.AcceptParams{
		OfferID:    offerID,
		ListingID:  listing.ID,
		ItemID:     listing.ItemID,
		BuyerRef:   offer.BuyerRef,
		PriceCents: amount,
	})
	if err != nil {
		return domain.Offer{}, s.classify(ctx, offerID, err)
	}

	if s.settler != nil {
		if settleErr := s.settler.RecordSale(ctx, domain.SaleReceipt{
			Kind:        domain.SaleKindOffer,
			ListingID:   listing.ID,
			OfferID:     offerID,
			ItemID:      listing.ItemID,
			BuyerRef:    offer.BuyerRef,
			SellerRef:   listing.SellerRef,
			AmountCents: amount,
			OccurredAt:  s.clock.Now(),
		}); settleErr != nil {
			s.logger.ErrorContext(ctx, "offer_service: settlement notify failed",
				slog.String("offer_id", offerID),
				slog.String("error", settleErr.Error()),
			)
		}
	}

	s.record(ctx, "offer_accepted", map[string]any{
		"offer_id":     offerID,
		"listing_id":   listing.ID,
		"item_id":      listing.ItemID,
		"buyer_ref":    offer.BuyerRef,
		"amount_cents": int64(amount),
	})
	s.publish(ctx, "offer_accepted", accepted)

	if s.notifier != nil {
		_ = s.notifier.Notify(ctx, notify.EventOfferAccepted,
			"Offer accepted",
			fmt.Sprintf("item %s resold to %s for %s", listing.ItemID, offer.BuyerRef, amount))
	}
	return accepted, nil
}

// Reject declines a live offer on behalf of the listing's seller.
func (s *OfferService) Reject(ctx context.Context, offerID, sellerRef string) (domain.Offer, error) {
	offer, listing, err := s.load(ctx, offerID)
	if err != nil {
		return domain.Offer{}, err
	}

	rejected, err := s.engine.Reject(offer, listing, sellerRef)
	if err != nil {
		return domain.Offer{}, err
	}
	err = s.offers.Resolve(ctx, offerID, domain.OfferStatusRejected,
		domain.OfferStatusPending, domain.OfferStatusCountered)
	if err != nil {
		return domain.Offer{}, s.classify(ctx, offerID, err)
	}

	s.record(ctx, "offer_rejected", map[string]any{"offer_id": offerID})
	s.publish(ctx, "offer_rejected", rejected)
	return rejected, nil
}

// Cancel withdraws a live offer. Only the buyer who placed it may cancel,
// and not after the deadline has passed.
func (s *OfferService) Cancel(ctx context.Context, offerID, buyerRef string) (domain.Offer, error) {
	offer, err := s.offers.GetByID(ctx, offerID)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("offer_service: get offer %q: %w", offerID, err)
	}

	cancelled, err := s.engine.Cancel(offer, buyerRef)
	if err != nil {
		return domain.Offer{}, err
	}
	err = s.offers.Resolve(ctx, offerID, domain.OfferStatusCancelled,
		domain.OfferStatusPending, domain.OfferStatusCountered)
	if err != nil {
		return domain.Offer{}, s.classify(ctx, offerID, err)
	}

	s.record(ctx, "offer_cancelled", map[string]any{"offer_id": offerID})
	s.publish(ctx, "offer_cancelled", cancelled)
	return cancelled, nil
}

// Get returns one offer.
func (s *OfferService) Get(ctx context.Context, offerID string) (domain.Offer, error) {
	return s.offers.GetByID(ctx, offerID)
}

// ListByListing returns all offers placed against a listing.
func (s *OfferService) ListByListing(ctx context.Context, listingID string, opts domain.ListOpts) ([]domain.Offer, error) {
	return s.offers.ListByListing(ctx, listingID, opts)
}

// ListByBuyer returns all offers a buyer has placed.
func (s *OfferService) ListByBuyer(ctx context.Context, buyerRef string, opts domain.ListOpts) ([]domain.Offer, error) {
	return s.offers.ListByBuyer(ctx, buyerRef, opts)
}

// ExpireSweep marks every live offer past its deadline as expired. A
// distributed lock keeps concurrent sweepers from double-reporting; losing
// the lock is not an error, the holder will do the work.
func (s *OfferService) ExpireSweep(ctx context.Context) (int, error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, offerSweepLock, offerSweepLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.DebugContext(ctx, "offer_service: sweep lock held elsewhere")
				return 0, nil
			}
			return 0, fmt.Errorf("offer_service: acquire sweep lock: %w", err)
		}
		defer unlock()
	}

	expired, err := s.offers.ExpireBefore(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("offer_service: expire sweep: %w", err)
	}
	for _, offer := range expired {
		s.record(ctx, "offer_expired", map[string]any{"offer_id": offer.ID})
		s.publish(ctx, "offer_expired", offer)
	}
	if len(expired) > 0 {
		s.logger.InfoContext(ctx, "offer_service: offers expired",
			slog.Int("count", len(expired)),
		)
	}
	return len(expired), nil
}

func (s *OfferService) load(ctx context.Context, offerID string) (domain.Offer, domain.Listing, error) {
	offer, err := s.offers.GetByID(ctx, offerID)
	if err != nil {
		return domain.Offer{}, domain.Listing{}, fmt.Errorf("offer_service: get offer %q: %w", offerID, err)
	}
	listing, err := s.listings.GetByID(ctx, offer.ListingID)
	if err != nil {
		return domain.Offer{}, domain.Listing{}, fmt.Errorf("offer_service: get listing %q: %w", offer.ListingID, err)
	}
	return offer, listing, nil
}

// classify turns a lost store race into the error the caller would have seen
// on a fresh read: a terminal offer reports ErrInvalidTransition rather than
// a bare conflict.
func (s *OfferService) classify(ctx context.Context, offerID string, err error) error {
	if !errors.Is(err, domain.ErrConflict) {
		return err
	}
	current, readErr := s.offers.GetByID(ctx, offerID)
	if readErr == nil && current.Status.Terminal() {
		return domain.ErrInvalidTransition
	}
	return err
}

func (s *OfferService) record(ctx context.Context, action string, details map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, action, details); err != nil {
		s.logger.WarnContext(ctx, "offer_service: audit log failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OfferService) publish(ctx context.Context, event string, offer domain.Offer) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":      event,
		"offer_id":   offer.ID,
		"listing_id": offer.ListingID,
		"status":     string(offer.Status),
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, "offers", payload); err != nil {
		s.logger.WarnContext(ctx, "offer_service: publish failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/mintforge/dropmarket/internal/domain"
)

// OfferEngine enforces the negotiation protocol between a listing owner and
// prospective buyers: propose → counter → accept/reject/cancel/expire, with
// exactly one terminal resolution. Methods validate against in-memory copies
// and return the next offer state; the store commits it with a
// compare-and-swap on the prior status.
type OfferEngine struct {
	clock domain.Clock
}

// NewOfferEngine creates an OfferEngine with the given clock.
func NewOfferEngine(clock domain.Clock) *OfferEngine {
	return &OfferEngine{clock: clock}
}

// Propose creates a PENDING offer from a buyer against an open listing.
func (e *OfferEngine) Propose(l domain.Listing, buyerRef string, amount domain.Cents, ttl time.Duration) (domain.Offer, error) {
	if !l.Open() {
		return domain.Offer{}, domain.ErrInvalidTransition
	}
	if buyerRef == l.SellerRef {
		return domain.Offer{}, domain.ErrSelfDealing
	}
	if amount <= 0 || ttl <= 0 {
		return domain.Offer{}, domain.ErrInvalidAmount
	}

	now := e.clock.Now()
	return domain.Offer{
		ID:          uuid.NewString(),
		ListingID:   l.ID,
		BuyerRef:    buyerRef,
		AmountCents: amount,
		Status:      domain.OfferStatusPending,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}, nil
}

// Counter is the listing owner's revised price on a PENDING offer.
func (e *OfferEngine) Counter(o domain.Offer, l domain.Listing, sellerRef string, amount domain.Cents) (domain.Offer, error) {
	if o.Status != domain.OfferStatusPending {
		return domain.Offer{}, domain.ErrInvalidTransition
	}
	if sellerRef != l.SellerRef {
		return domain.Offer{}, domain.ErrUnauthorized
	}
	if o.ExpiredAt(e.clock.Now()) {
		return domain.Offer{}, domain.ErrExpired
	}
	if amount <= 0 {
		return domain.Offer{}, domain.ErrInvalidAmount
	}

	o.Status = domain.OfferStatusCountered
	o.CounterCents = &amount
	return o, nil
}

// Accept resolves a PENDING or COUNTERED offer in the buyer's favor. The
// caller must be the listing owner; the item transfer and listing close ride
// in the store transaction keyed on this decision.
func (e *OfferEngine) Accept(o domain.Offer, l domain.Listing, sellerRef string) (domain.Offer, error) {
	return e.resolveBySeller(o, l, sellerRef, domain.OfferStatusAccepted)
}

// Reject resolves a PENDING or COUNTERED offer against the buyer.
func (e *OfferEngine) Reject(o domain.Offer, l domain.Listing, sellerRef string) (domain.Offer, error) {
	return e.resolveBySeller(o, l, sellerRef, domain.OfferStatusRejected)
}

func (e *OfferEngine) resolveBySeller(o domain.Offer, l domain.Listing, sellerRef string, to domain.OfferStatus) (domain.Offer, error) {
	if o.Status != domain.OfferStatusPending && o.Status != domain.OfferStatusCountered {
		return domain.Offer{}, domain.ErrInvalidTransition
	}
	if sellerRef != l.SellerRef {
		return domain.Offer{}, domain.ErrUnauthorized
	}
	now := e.clock.Now()
	if o.ExpiredAt(now) {
		return domain.Offer{}, domain.ErrExpired
	}

	o.Status = to
	o.ResolvedAt = &now
	return o, nil
}

// Cancel is the buyer withdrawing a live offer. Past the deadline the offer
// belongs to the sweep, so cancellation fails with Expired.
func (e *OfferEngine) Cancel(o domain.Offer, buyerRef string) (domain.Offer, error) {
	if o.Status != domain.OfferStatusPending && o.Status != domain.OfferStatusCountered {
		return domain.Offer{}, domain.ErrInvalidTransition
	}
	if buyerRef != o.BuyerRef {
		return domain.Offer{}, domain.ErrUnauthorized
	}
	now := e.clock.Now()
	if o.ExpiredAt(now) {
		return domain.Offer{}, domain.ErrExpired
	}

	o.Status = domain.OfferStatusCancelled
	o.ResolvedAt = &now
	return o, nil
}

// Expire resolves a non-terminal offer whose deadline has passed. Offers
// still inside their window are left alone with ErrInvalidTransition.
func (e *OfferEngine) Expire(o domain.Offer) (domain.Offer, error) {
	if o.Status != domain.OfferStatusPending && o.Status != domain.OfferStatusCountered {
		return domain.Offer{}, domain.ErrInvalidTransition
	}
	now := e.clock.Now()
	if !o.ExpiredAt(now) {
		return domain.Offer{}, domain.ErrInvalidTransition
	}

	o.Status = domain.OfferStatusExpired
	o.ResolvedAt = &now
	return o, nil
}

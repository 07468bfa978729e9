package domain

import "time"

// OfferStatus tracks the negotiation lifecycle. The four terminal statuses
// are reached at most once and never change afterwards.
type OfferStatus string

const (
	OfferStatusPending   OfferStatus = "pending"
	OfferStatusCountered OfferStatus = "countered"
	OfferStatusAccepted  OfferStatus = "accepted"
	OfferStatusRejected  OfferStatus = "rejected"
	OfferStatusExpired   OfferStatus = "expired"
	OfferStatusCancelled OfferStatus = "cancelled"
)

// Terminal reports whether the status is a final resolution.
func (s OfferStatus) Terminal() bool {
	switch s {
	case OfferStatusAccepted, OfferStatusRejected, OfferStatusExpired, OfferStatusCancelled:
		return true
	default:
		return false
	}
}

// Offer is a buyer's negotiable proposal against a listing. CounterCents is
// set only by the listing owner when countering.
type Offer struct {
	ID          string
	ListingID   string
	BuyerRef    string
	AmountCents Cents
	CounterCents *Cents
	Status      OfferStatus
	ExpiresAt   time.Time
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// ExpiredAt reports whether the offer deadline has passed at the given
// instant. Expired offers can never be resolved by a party action.
func (o Offer) ExpiredAt(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// SettlementAmount is the price an acceptance settles at: the counter amount
// when one was made, otherwise the buyer's original amount.
func (o Offer) SettlementAmount() Cents {
	if o.CounterCents != nil {
		return *o.CounterCents
	}
	return o.AmountCents
}

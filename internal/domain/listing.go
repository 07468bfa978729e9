package domain

import "time"

// ListingStatus tracks a resale listing's lifecycle.
type ListingStatus string

const (
	ListingStatusOpen      ListingStatus = "open"
	ListingStatusSettled   ListingStatus = "settled"
	ListingStatusCancelled ListingStatus = "cancelled"
)

// Listing is a fixed-price resale offer for a single item. At most one open
// listing exists per item; this is enforced by the store.
type Listing struct {
	ID         string
	ItemID     string
	SellerRef  string
	PriceCents Cents
	Status     ListingStatus
	CreatedAt  time.Time
	ClosedAt   *time.Time
}

// Open reports whether the listing still accepts offers.
func (l Listing) Open() bool {
	return l.Status == ListingStatusOpen
}

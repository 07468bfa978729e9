package domain

import (
	"context"
	"time"
)

// SaleKind distinguishes how an item changed hands.
type SaleKind string

const (
	SaleKindPrimary SaleKind = "primary"        // drop sale at the phase price
	SaleKindOffer   SaleKind = "offer_accepted" // negotiated resale
)

// SaleReceipt tells the settlement service that a sale happened: parties,
// item and amount. Never how to capture payment.
type SaleReceipt struct {
	Kind        SaleKind  `json:"kind"`
	ItemID      string    `json:"item_id"`
	ListingID   string    `json:"listing_id,omitempty"`
	OfferID     string    `json:"offer_id,omitempty"`
	SellerRef   string    `json:"seller_ref,omitempty"`
	BuyerRef    string    `json:"buyer_ref"`
	AmountCents Cents     `json:"amount_cents"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Settler notifies the external payment/settlement service of completed
// sales. Failures are logged, not propagated; the sale is already committed.
type Settler interface {
	RecordSale(ctx context.Context, r SaleReceipt) error
}

package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PhaseStore persists the release schedule. Every mutation is a conditional
// update keyed on the row version so concurrent writers lose cleanly with
// ErrConflict instead of clobbering each other.
type PhaseStore interface {
	// CreateBatch inserts the immutable schedule skeleton at catalog setup.
	CreateBatch(ctx context.Context, phases []Phase) error
	List(ctx context.Context) ([]Phase, error)
	GetByID(ctx context.Context, id string) (Phase, error)
	GetByIndex(ctx context.Context, index int) (Phase, error)
	// Active returns the single active phase, or ErrNotFound when none is.
	Active(ctx context.Context) (Phase, error)
	// NextAfter returns the lowest-index never-activated phase above the
	// given index, or ErrNotFound when the schedule is exhausted.
	NextAfter(ctx context.Context, index int) (Phase, error)
	// Update writes the mutable phase fields guarded by p.Version and bumps
	// the version. Returns ErrConflict when the guard misses.
	Update(ctx context.Context, p Phase) error
	// Swap deactivates cur (when non-nil) and activates next in one
	// transaction, both writes version-guarded.
	Swap(ctx context.Context, cur *Phase, next Phase) error
	// IncreasePercent returns the durably stored global increase percent,
	// or ErrNotFound when no rate change has ever been recorded.
	IncreasePercent(ctx context.Context) (float64, error)
	// SetIncreasePercent durably records the global increase percent so
	// every process, current and restarted, prices with the same value.
	SetIncreasePercent(ctx context.Context, percent float64) error
}

// PurchaseParams describes a primary drop sale: the item transition and the
// conditional capacity increment committed as one transaction.
type PurchaseParams struct {
	ItemID     string
	PhaseID    string
	BuyerRef   string
	PriceCents Cents
}

// ItemStore persists the collectible catalog.
type ItemStore interface {
	CreateBatch(ctx context.Context, items []Item) error
	GetByID(ctx context.Context, id string) (Item, error)
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]Item, error)
	ListByStatus(ctx context.Context, status ItemStatus, opts ListOpts) ([]Item, error)
	Count(ctx context.Context) (int64, error)
	// UpdateStatus transitions the item only when it currently holds the
	// expected status; zero rows means ErrConflict.
	UpdateStatus(ctx context.Context, id string, from, to ItemStatus) error
	// Purchase commits a primary sale: increments the phase's sold counter
	// only while it is active and under capacity, and moves the item from
	// AVAILABLE to SOLD with owner and price snapshot. A full phase yields
	// ErrCapacityExhausted; a lost race yields ErrConflict.
	Purchase(ctx context.Context, p PurchaseParams) error
}

// ListingStore persists resale listings. Creation and cancellation carry the
// paired item status flip inside the same transaction.
type ListingStore interface {
	// Create inserts an open listing and moves the item from SOLD to LISTED.
	// A second open listing for the same item fails with ErrAlreadyExists.
	Create(ctx context.Context, l Listing) error
	GetByID(ctx context.Context, id string) (Listing, error)
	OpenByItem(ctx context.Context, itemID string) (Listing, error)
	ListOpen(ctx context.Context, opts ListOpts) ([]Listing, error)
	// Cancel closes an open listing and reverts the item to SOLD.
	Cancel(ctx context.Context, id string) error
}

// AcceptParams describes an offer acceptance: the one path that transfers
// item ownership. Everything commits in a single transaction keyed on the
// offer's prior status.
type AcceptParams struct {
	OfferID    string
	ListingID  string
	ItemID     string
	BuyerRef   string
	PriceCents Cents
}

// OfferStore persists negotiations. All status transitions are
// compare-and-swap on the current status in the update predicate; a resolved
// offer can never be resolved again.
type OfferStore interface {
	Create(ctx context.Context, o Offer) error
	GetByID(ctx context.Context, id string) (Offer, error)
	ListByListing(ctx context.Context, listingID string, opts ListOpts) ([]Offer, error)
	ListByBuyer(ctx context.Context, buyer string, opts ListOpts) ([]Offer, error)
	// Counter moves a PENDING, unexpired offer to COUNTERED with the
	// seller's amount. ErrConflict when the offer is no longer PENDING.
	Counter(ctx context.Context, id string, amount Cents) error
	// Resolve moves the offer to a terminal status when its current status
	// is one of from. ErrConflict when the guard misses.
	Resolve(ctx context.Context, id string, to OfferStatus, from ...OfferStatus) error
	// Accept resolves the offer to ACCEPTED, settles the listing, transfers
	// the item to the buyer, and rejects sibling open offers in one
	// transaction. ErrConflict when the offer was already resolved.
	Accept(ctx context.Context, p AcceptParams) error
	// ExpireBefore claims every non-terminal offer whose deadline passed
	// before cutoff, moving it to EXPIRED, and returns the claimed offers.
	ExpireBefore(ctx context.Context, cutoff time.Time) ([]Offer, error)
	// ListResolvedBefore returns terminal offers resolved before cutoff,
	// oldest first, for archival.
	ListResolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Offer, error)
}

// AuditEntry is a single append-only audit row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore records every phase transition, sale and offer resolution.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintforge/dropmarket/internal/domain"
)

func newListingService(t *testing.T, clock *fakeClock, db *memDB) *ListingService {
	t.Helper()
	return NewListingService(
		&memListingStore{db: db}, &memItemStore{db: db},
		nil, &memAuditStore{db: db}, nil,
		clock, discardLogger(),
	)
}

func seedSoldItem(db *memDB, id, owner string) {
	o := owner
	db.items[id] = domain.Item{ID: id, Score: 300, Status: domain.ItemStatusSold, OwnerRef: &o}
}

func TestCreateListingFlipsItem(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	seedSoldItem(db, "item-1", sellerRef)
	svc := newListingService(t, clock, db)

	listing, err := svc.Create(context.Background(), "item-1", sellerRef, 12000)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusOpen, listing.Status)
	assert.Equal(t, domain.Cents(12000), listing.PriceCents)
	assert.Equal(t, domain.ItemStatusListed, db.items["item-1"].Status)
}

func TestCreateListingGuards(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	seedSoldItem(db, "item-1", sellerRef)
	db.items["item-free"] = domain.Item{ID: "item-free", Score: 10, Status: domain.ItemStatusAvailable}
	svc := newListingService(t, clock, db)

	_, err := svc.Create(context.Background(), "item-1", "intruder", 12000)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Create(context.Background(), "item-1", sellerRef, 0)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Create(context.Background(), "item-free", sellerRef, 12000)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Create(context.Background(), "missing", sellerRef, 12000)
	require.ErrorIs(t, err, domain.ErrNotFound)

	// An item held mid-checkout is owned but not yet sold, so it cannot
	// be listed until the reservation resolves.
	owner := sellerRef
	db.items["item-held"] = domain.Item{
		ID: "item-held", Score: 10,
		Status: domain.ItemStatusReserved, OwnerRef: &owner,
	}
	_, err = svc.Create(context.Background(), "item-held", sellerRef, 12000)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestDuplicateOpenListingRejected(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	seedSoldItem(db, "item-1", sellerRef)
	svc := newListingService(t, clock, db)

	_, err := svc.Create(context.Background(), "item-1", sellerRef, 12000)
	require.NoError(t, err)

	// The item is now listed, not sold, so a second listing fails before it
	// reaches the store's uniqueness guard.
	_, err = svc.Create(context.Background(), "item-1", sellerRef, 15000)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancelListingRevertsItemAndRejectsOffers(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	seedSoldItem(db, "item-1", sellerRef)
	svc := newListingService(t, clock, db)

	listing, err := svc.Create(context.Background(), "item-1", sellerRef, 12000)
	require.NoError(t, err)

	offers := newOfferService(t, clock, db)
	offer, err := offers.Propose(context.Background(), listing.ID, buyerRef, 5000)
	require.NoError(t, err)

	clock.advance(time.Minute)
	cancelled, err := svc.Cancel(context.Background(), listing.ID, sellerRef)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.ClosedAt)

	assert.Equal(t, domain.ItemStatusSold, db.items["item-1"].Status)
	assert.Equal(t, domain.OfferStatusRejected, db.offers[offer.ID].Status)
}

func TestCancelGuards(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	seedSoldItem(db, "item-1", sellerRef)
	svc := newListingService(t, clock, db)

	listing, err := svc.Create(context.Background(), "item-1", sellerRef, 12000)
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), listing.ID, "intruder")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Cancel(context.Background(), listing.ID, sellerRef)
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), listing.ID, sellerRef)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCatalogSeedIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	db := newMemDB(clock)
	catalog := NewCatalogService(&memItemStore{db: db}, nil, clock, discardLogger())

	inserted, err := catalog.Seed(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, CatalogSize, inserted)

	again, err := catalog.Seed(context.Background(), 42)
	require.NoError(t, err)
	assert.Zero(t, again)

	for _, it := range db.items {
		assert.Equal(t, domain.ItemStatusAvailable, it.Status)
		assert.LessOrEqual(t, it.Score, domain.MaxScore)
		break
	}
}

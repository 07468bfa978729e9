package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintforge/dropmarket/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL. The
// listings_one_open_per_item partial unique index enforces one open listing
// per item; creation and cancellation flip the item status in the same
// transaction.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

const listingSelectCols = `id, item_id, seller_ref, price_cents, status, created_at, closed_at`

func scanListing(scanner interface{ Scan(dest ...any) error }) (domain.Listing, error) {
	var l domain.Listing
	var price int64
	var status string

	err := scanner.Scan(&l.ID, &l.ItemID, &l.SellerRef, &price, &status, &l.CreatedAt, &l.ClosedAt)
	if err != nil {
		return domain.Listing{}, err
	}

	l.PriceCents = domain.Cents(price)
	l.Status = domain.ListingStatus(status)
	return l, nil
}

// Create inserts an open listing and moves the item SOLD -> LISTED. A second
// open listing for the same item trips the unique index and surfaces as
// domain.ErrAlreadyExists.
func (s *ListingStore) Create(ctx context.Context, l domain.Listing) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create listing: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO listings (id, item_id, seller_ref, price_cents, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.ItemID, l.SellerRef, int64(l.PriceCents),
		string(domain.ListingStatusOpen), l.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create listing %s: %w", l.ID, err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE items SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = $3 AND owner_ref = $4`,
		l.ItemID, string(domain.ItemStatusListed),
		string(domain.ItemStatusSold), l.SellerRef)
	if err != nil {
		return fmt.Errorf("postgres: mark item listed %s: %w", l.ItemID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create listing: %w", err)
	}
	return nil
}

// GetByID retrieves a single listing.
func (s *ListingStore) GetByID(ctx context.Context, id string) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingSelectCols+` FROM listings WHERE id = $1`, id)

	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", id, err)
	}
	return l, nil
}

// OpenByItem returns the item's open listing, or domain.ErrNotFound.
func (s *ListingStore) OpenByItem(ctx context.Context, itemID string) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingSelectCols+` FROM listings
		 WHERE item_id = $1 AND status = 'open'`, itemID)

	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: open listing for item %s: %w", itemID, err)
	}
	return l, nil
}

// ListOpen returns open listings, newest first.
func (s *ListingStore) ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingSelectCols+` FROM listings
		 WHERE status = 'open' ORDER BY created_at DESC`+limitOffset(opts))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open listings: %w", err)
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// Cancel closes an open listing and reverts the item LISTED -> SOLD. Open
// offers against the listing are rejected in the same transaction so nothing
// dangles against a dead listing.
func (s *ListingStore) Cancel(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin cancel listing: %w", err)
	}
	defer tx.Rollback(ctx)

	var itemID string
	err = tx.QueryRow(ctx,
		`UPDATE listings SET status = $2, closed_at = NOW()
		 WHERE id = $1 AND status = 'open'
		 RETURNING item_id`,
		id, string(domain.ListingStatusCancelled),
	).Scan(&itemID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrConflict
		}
		return fmt.Errorf("postgres: cancel listing %s: %w", id, err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE items SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		itemID, string(domain.ItemStatusSold), string(domain.ItemStatusListed))
	if err != nil {
		return fmt.Errorf("postgres: revert item %s: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}

	_, err = tx.Exec(ctx,
		`UPDATE offers SET status = $2, resolved_at = NOW()
		 WHERE listing_id = $1 AND status IN ('pending', 'countered')`,
		id, string(domain.OfferStatusRejected))
	if err != nil {
		return fmt.Errorf("postgres: reject offers for listing %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit cancel listing: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ListingStore = (*ListingStore)(nil)

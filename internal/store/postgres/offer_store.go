package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintforge/dropmarket/internal/domain"
)

// OfferStore implements domain.OfferStore using PostgreSQL. Resolution is a
// compare-and-swap on the status column: whichever writer commits first
// wins, the loser sees zero rows and gets domain.ErrConflict.
type OfferStore struct {
	pool *pgxpool.Pool
}

// NewOfferStore creates an OfferStore backed by the given connection pool.
func NewOfferStore(pool *pgxpool.Pool) *OfferStore {
	return &OfferStore{pool: pool}
}

const offerSelectCols = `id, listing_id, buyer_ref, amount_cents, counter_cents,
	status, expires_at, created_at, resolved_at`

func scanOffer(scanner interface{ Scan(dest ...any) error }) (domain.Offer, error) {
	var o domain.Offer
	var amount int64
	var counter *int64
	var status string

	err := scanner.Scan(
		&o.ID, &o.ListingID, &o.BuyerRef, &amount, &counter,
		&status, &o.ExpiresAt, &o.CreatedAt, &o.ResolvedAt,
	)
	if err != nil {
		return domain.Offer{}, err
	}

	o.AmountCents = domain.Cents(amount)
	if counter != nil {
		c := domain.Cents(*counter)
		o.CounterCents = &c
	}
	o.Status = domain.OfferStatus(status)
	return o, nil
}

func scanOfferRows(rows pgx.Rows) ([]domain.Offer, error) {
	var offers []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// Create inserts a new PENDING offer.
func (s *OfferStore) Create(ctx context.Context, o domain.Offer) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO offers (id, listing_id, buyer_ref, amount_cents, status, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.ListingID, o.BuyerRef, int64(o.AmountCents),
		string(o.Status), o.ExpiresAt, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create offer %s: %w", o.ID, err)
	}
	return nil
}

// GetByID retrieves a single offer.
func (s *OfferStore) GetByID(ctx context.Context, id string) (domain.Offer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+offerSelectCols+` FROM offers WHERE id = $1`, id)

	o, err := scanOffer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Offer{}, domain.ErrNotFound
		}
		return domain.Offer{}, fmt.Errorf("postgres: get offer %s: %w", id, err)
	}
	return o, nil
}

// ListByListing returns offers against a listing, newest first.
func (s *OfferStore) ListByListing(ctx context.Context, listingID string, opts domain.ListOpts) ([]domain.Offer, error) {
	return s.list(ctx,
		`SELECT `+offerSelectCols+` FROM offers WHERE listing_id = $1
		 ORDER BY created_at DESC`+limitOffset(opts), listingID)
}

// ListByBuyer returns a buyer's offers, newest first.
func (s *OfferStore) ListByBuyer(ctx context.Context, buyer string, opts domain.ListOpts) ([]domain.Offer, error) {
	return s.list(ctx,
		`SELECT `+offerSelectCols+` FROM offers WHERE buyer_ref = $1
		 ORDER BY created_at DESC`+limitOffset(opts), buyer)
}

func (s *OfferStore) list(ctx context.Context, query string, args ...any) ([]domain.Offer, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list offers: %w", err)
	}
	defer rows.Close()

	offers, err := scanOfferRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan offers: %w", err)
	}
	return offers, nil
}

// Counter moves a PENDING offer to COUNTERED with the seller's amount.
func (s *OfferStore) Counter(ctx context.Context, id string, amount domain.Cents) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE offers SET status = $2, counter_cents = $3
		 WHERE id = $1 AND status = $4`,
		id, string(domain.OfferStatusCountered), int64(amount),
		string(domain.OfferStatusPending))
	if err != nil {
		return fmt.Errorf("postgres: counter offer %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// statusList renders a status IN list for the CAS predicates.
func statusList(statuses []domain.OfferStatus) string {
	quoted := make([]string, len(statuses))
	for i, st := range statuses {
		quoted[i] = "'" + string(st) + "'"
	}
	return strings.Join(quoted, ", ")
}

// Resolve moves the offer to a terminal status when its current status is
// one of from.
func (s *OfferStore) Resolve(ctx context.Context, id string, to domain.OfferStatus, from ...domain.OfferStatus) error {
	if len(from) == 0 {
		return domain.ErrInvalidTransition
	}

	query := fmt.Sprintf(
		`UPDATE offers SET status = $2, resolved_at = NOW()
		 WHERE id = $1 AND status IN (%s)`, statusList(from))

	tag, err := s.pool.Exec(ctx, query, id, string(to))
	if err != nil {
		return fmt.Errorf("postgres: resolve offer %s to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// Accept commits the one path that transfers ownership: offer to ACCEPTED
// (CAS on its live status), listing settled, item handed to the buyer with
// the negotiated price snapshot, and sibling live offers rejected, all in
// one transaction.
func (s *OfferStore) Accept(ctx context.Context, p domain.AcceptParams) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin accept: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE offers SET status = $2, resolved_at = NOW()
		 WHERE id = $1 AND status IN ('pending', 'countered')`,
		p.OfferID, string(domain.OfferStatusAccepted))
	if err != nil {
		return fmt.Errorf("postgres: accept offer %s: %w", p.OfferID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}

	tag, err = tx.Exec(ctx,
		`UPDATE listings SET status = $2, closed_at = NOW()
		 WHERE id = $1 AND status = 'open'`,
		p.ListingID, string(domain.ListingStatusSettled))
	if err != nil {
		return fmt.Errorf("postgres: settle listing %s: %w", p.ListingID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}

	tag, err = tx.Exec(ctx,
		`UPDATE items SET status = $2, owner_ref = $3,
			price_snapshot_cents = $4, updated_at = NOW()
		 WHERE id = $1 AND status = $5`,
		p.ItemID, string(domain.ItemStatusSold), p.BuyerRef,
		int64(p.PriceCents), string(domain.ItemStatusListed))
	if err != nil {
		return fmt.Errorf("postgres: transfer item %s: %w", p.ItemID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}

	_, err = tx.Exec(ctx,
		`UPDATE offers SET status = $3, resolved_at = NOW()
		 WHERE listing_id = $1 AND id <> $2 AND status IN ('pending', 'countered')`,
		p.ListingID, p.OfferID, string(domain.OfferStatusRejected))
	if err != nil {
		return fmt.Errorf("postgres: reject sibling offers for %s: %w", p.ListingID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit accept: %w", err)
	}
	return nil
}

// ExpireBefore claims every live offer whose deadline passed before cutoff.
// The status predicate makes this safe against a concurrent accept: an offer
// resolved in between simply is not matched.
func (s *OfferStore) ExpireBefore(ctx context.Context, cutoff time.Time) ([]domain.Offer, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE offers SET status = $2, resolved_at = NOW()
		 WHERE expires_at <= $1 AND status IN ('pending', 'countered')
		 RETURNING `+offerSelectCols,
		cutoff, string(domain.OfferStatusExpired))
	if err != nil {
		return nil, fmt.Errorf("postgres: expire offers before %s: %w", cutoff, err)
	}
	defer rows.Close()

	offers, err := scanOfferRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan expired offers: %w", err)
	}
	return offers, nil
}

// ListResolvedBefore returns terminal offers resolved before cutoff, oldest
// first, for archival.
func (s *OfferStore) ListResolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Offer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+offerSelectCols+` FROM offers
		 WHERE resolved_at IS NOT NULL AND resolved_at <= $1
		 ORDER BY resolved_at
		 LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved offers: %w", err)
	}
	defer rows.Close()

	offers, err := scanOfferRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan resolved offers: %w", err)
	}
	return offers, nil
}

// Compile-time interface check.
var _ domain.OfferStore = (*OfferStore)(nil)

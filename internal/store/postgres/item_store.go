package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mintforge/dropmarket/internal/domain"
)

// ItemStore implements domain.ItemStore using PostgreSQL.
type ItemStore struct {
	pool *pgxpool.Pool
}

// NewItemStore creates an ItemStore backed by the given connection pool.
func NewItemStore(pool *pgxpool.Pool) *ItemStore {
	return &ItemStore{pool: pool}
}

const itemSelectCols = `id, token_index, score, status, owner_ref,
	price_snapshot_cents, created_at, updated_at`

func scanItem(scanner interface{ Scan(dest ...any) error }) (domain.Item, error) {
	var i domain.Item
	var status string
	var snapshot *int64

	err := scanner.Scan(
		&i.ID, &i.TokenIndex, &i.Score, &status, &i.OwnerRef,
		&snapshot, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return domain.Item{}, err
	}

	i.Status = domain.ItemStatus(status)
	if snapshot != nil {
		c := domain.Cents(*snapshot)
		i.PriceSnapshot = &c
	}
	return i, nil
}

// CreateBatch seeds the catalog. Called once at setup.
func (s *ItemStore) CreateBatch(ctx context.Context, items []domain.Item) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin item batch: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `
		INSERT INTO items (id, token_index, score, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())`

	for _, i := range items {
		status := i.Status
		if status == "" {
			status = domain.ItemStatusAvailable
		}
		if _, err := tx.Exec(ctx, query, i.ID, i.TokenIndex, i.Score, string(status)); err != nil {
			return fmt.Errorf("postgres: insert item %d: %w", i.TokenIndex, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit item batch: %w", err)
	}
	return nil
}

// GetByID retrieves a single item.
func (s *ItemStore) GetByID(ctx context.Context, id string) (domain.Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemSelectCols+` FROM items WHERE id = $1`, id)

	i, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Item{}, domain.ErrNotFound
		}
		return domain.Item{}, fmt.Errorf("postgres: get item %s: %w", id, err)
	}
	return i, nil
}

// ListByOwner returns items owned by the given party.
func (s *ItemStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Item, error) {
	return s.list(ctx,
		`SELECT `+itemSelectCols+` FROM items WHERE owner_ref = $1
		 ORDER BY token_index`+limitOffset(opts), owner)
}

// ListByStatus returns items in the given status.
func (s *ItemStore) ListByStatus(ctx context.Context, status domain.ItemStatus, opts domain.ListOpts) ([]domain.Item, error) {
	return s.list(ctx,
		`SELECT `+itemSelectCols+` FROM items WHERE status = $1
		 ORDER BY token_index`+limitOffset(opts), string(status))
}

func (s *ItemStore) list(ctx context.Context, query string, args ...any) ([]domain.Item, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan item: %w", err)
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// Count returns the catalog size.
func (s *ItemStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count items: %w", err)
	}
	return n, nil
}

// UpdateStatus transitions the item only from the expected status.
func (s *ItemStore) UpdateStatus(ctx context.Context, id string, from, to domain.ItemStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET status = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("postgres: update item status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// Purchase commits a primary sale atomically: the phase's sold counter is
// incremented with a single conditional update (never read-then-write) and
// the item flips AVAILABLE -> SOLD in the same transaction. A full or
// inactive phase is distinguished from a plain lost race by re-reading the
// row after the guard misses.
func (s *ItemStore) Purchase(ctx context.Context, p domain.PurchaseParams) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin purchase: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE phases SET sold = sold + 1, version = version + 1
		 WHERE id = $1 AND is_active AND NOT is_paused AND sold < capacity`,
		p.PhaseID)
	if err != nil {
		return fmt.Errorf("postgres: increment sold for phase %s: %w", p.PhaseID, err)
	}
	if tag.RowsAffected() == 0 {
		var active, paused bool
		var sold, capacity int
		err := tx.QueryRow(ctx,
			`SELECT is_active, is_paused, sold, capacity FROM phases WHERE id = $1`,
			p.PhaseID,
		).Scan(&active, &paused, &sold, &capacity)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("postgres: inspect phase %s: %w", p.PhaseID, err)
		}
		if active && !paused && sold >= capacity {
			return domain.ErrCapacityExhausted
		}
		return domain.ErrConflict
	}

	tag, err = tx.Exec(ctx,
		`UPDATE items SET status = $2, owner_ref = $3,
			price_snapshot_cents = $4, updated_at = NOW()
		 WHERE id = $1 AND status = $5`,
		p.ItemID, string(domain.ItemStatusSold), p.BuyerRef,
		int64(p.PriceCents), string(domain.ItemStatusAvailable))
	if err != nil {
		return fmt.Errorf("postgres: sell item %s: %w", p.ItemID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit purchase: %w", err)
	}
	return nil
}

// limitOffset renders pagination. Values are server-side constants built
// from validated ints, not user strings.
func limitOffset(opts domain.ListOpts) string {
	clause := ""
	if opts.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}
	return clause
}

// Compile-time interface check.
var _ domain.ItemStore = (*ItemStore)(nil)

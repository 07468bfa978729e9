package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/google/uuid"

	"github.com/mintforge/dropmarket/internal/domain"
)

// CatalogSize is the fixed number of collectibles in the drop.
const CatalogSize = 20000

// CatalogService serves item reads and performs the one-time catalog seed.
type CatalogService struct {
	items  domain.ItemStore
	prices domain.PriceCache
	clock  domain.Clock
	logger *slog.Logger
}

// NewCatalogService creates a CatalogService.
func NewCatalogService(items domain.ItemStore, prices domain.PriceCache, clock domain.Clock, logger *slog.Logger) *CatalogService {
	return &CatalogService{items: items, prices: prices, clock: clock, logger: logger}
}

// Get returns one item.
func (s *CatalogService) Get(ctx context.Context, itemID string) (domain.Item, error) {
	return s.items.GetByID(ctx, itemID)
}

// ListByOwner returns the items a party currently owns.
func (s *CatalogService) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Item, error) {
	return s.items.ListByOwner(ctx, owner, opts)
}

// ListByStatus returns items in a given lifecycle state.
func (s *CatalogService) ListByStatus(ctx context.Context, status domain.ItemStatus, opts domain.ListOpts) ([]domain.Item, error) {
	return s.items.ListByStatus(ctx, status, opts)
}

// Seed populates the catalog with CatalogSize items carrying random scores.
// It is idempotent at the whole-catalog level: a non-empty catalog is left
// untouched. seed fixes the score sequence for reproducible environments.
func (s *CatalogService) Seed(ctx context.Context, seed int64) (int, error) {
	count, err := s.items.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("catalog_service: count items: %w", err)
	}
	if count > 0 {
		s.logger.InfoContext(ctx, "catalog_service: catalog already seeded",
			slog.Int64("items", count),
		)
		return 0, nil
	}

	rng := rand.New(rand.NewSource(seed))
	now := s.clock.Now()

	const batchSize = 500
	batch := make([]domain.Item, 0, batchSize)
	inserted := 0
	for idx := 0; idx < CatalogSize; idx++ {
		batch = append(batch, domain.Item{
			ID:         uuid.NewString(),
			TokenIndex: idx,
			Score:      rng.Intn(domain.MaxScore + 1),
			Status:     domain.ItemStatusAvailable,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if len(batch) == batchSize {
			if err := s.items.CreateBatch(ctx, batch); err != nil {
				return inserted, fmt.Errorf("catalog_service: seed batch at %d: %w", idx, err)
			}
			inserted += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := s.items.CreateBatch(ctx, batch); err != nil {
			return inserted, fmt.Errorf("catalog_service: seed final batch: %w", err)
		}
		inserted += len(batch)
	}

	s.logger.InfoContext(ctx, "catalog_service: catalog seeded",
		slog.Int("items", inserted),
	)
	return inserted, nil
}

package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mintforge/dropmarket/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each item's
// last computed price is stored at "price:{itemID}" with fields "cents" and
// "ts" (Unix nanoseconds). The cache is advisory; the authoritative price is
// always recomputable from score plus active phase.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(itemID string) string {
	return "price:" + itemID
}

// SetPrice stores the latest computed price for an item.
func (pc *PriceCache) SetPrice(ctx context.Context, itemID string, price domain.Cents, ts time.Time) error {
	fields := map[string]interface{}{
		"cents": strconv.FormatInt(int64(price), 10),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(itemID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", itemID, err)
	}
	return nil
}

// GetPrice retrieves the last computed price and its timestamp for an item.
// It returns domain.ErrNotFound when no price has been cached.
func (pc *PriceCache) GetPrice(ctx context.Context, itemID string) (domain.Cents, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(itemID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", itemID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	centsStr, ok := vals["cents"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	cents, err := strconv.ParseInt(centsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", itemID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", itemID, err)
	}

	return domain.Cents(cents), time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)

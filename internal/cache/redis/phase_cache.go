package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mintforge/dropmarket/internal/domain"
)

// activePhaseKey holds the JSON snapshot of the active phase. There is one
// active phase globally, so one key suffices.
const activePhaseKey = "phase:active"

// phaseSnapshot is the cached wire form of a phase. Durations travel as
// seconds to stay readable in redis-cli.
type phaseSnapshot struct {
	ID              string     `json:"id"`
	Index           int        `json:"index"`
	RateCents       int64      `json:"rate_cents"`
	Capacity        int        `json:"capacity"`
	Sold            int        `json:"sold"`
	StartTime       time.Time  `json:"start_time"`
	DurationSec     int64      `json:"duration_sec"`
	PausedTotalSec  int64      `json:"paused_total_sec"`
	Paused          bool       `json:"paused"`
	PausedAt        *time.Time `json:"paused_at,omitempty"`
	IncreasePercent float64    `json:"increase_percent"`
	Version         int64      `json:"version"`
}

// PhaseCache implements domain.PhaseCache using a single Redis string key.
// Readers tolerate a slightly stale snapshot; the sale path re-reads the
// database before committing.
type PhaseCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPhaseCache creates a PhaseCache backed by the given Client. A zero TTL
// keeps snapshots until explicitly invalidated.
func NewPhaseCache(c *Client, ttl time.Duration) *PhaseCache {
	return &PhaseCache{rdb: c.Underlying(), ttl: ttl}
}

// SetActive stores the active phase snapshot.
func (pc *PhaseCache) SetActive(ctx context.Context, p domain.Phase) error {
	snap := phaseSnapshot{
		ID:              p.ID,
		Index:           p.Index,
		RateCents:       int64(p.RateCents),
		Capacity:        p.Capacity,
		Sold:            p.Sold,
		StartTime:       p.StartTime,
		DurationSec:     int64(p.Duration / time.Second),
		PausedTotalSec:  int64(p.PausedTotal / time.Second),
		Paused:          p.Paused,
		PausedAt:        p.PausedAt,
		IncreasePercent: p.IncreasePercent,
		Version:         p.Version,
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal phase snapshot: %w", err)
	}
	if err := pc.rdb.Set(ctx, activePhaseKey, data, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set active phase: %w", err)
	}
	return nil
}

// Active returns the cached active phase, or domain.ErrNotFound on a miss.
func (pc *PhaseCache) Active(ctx context.Context) (domain.Phase, error) {
	data, err := pc.rdb.Get(ctx, activePhaseKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Phase{}, domain.ErrNotFound
		}
		return domain.Phase{}, fmt.Errorf("redis: get active phase: %w", err)
	}

	var snap phaseSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Phase{}, fmt.Errorf("redis: unmarshal phase snapshot: %w", err)
	}

	return domain.Phase{
		ID:              snap.ID,
		Index:           snap.Index,
		RateCents:       domain.Cents(snap.RateCents),
		Capacity:        snap.Capacity,
		Sold:            snap.Sold,
		StartTime:       snap.StartTime,
		Duration:        time.Duration(snap.DurationSec) * time.Second,
		PausedTotal:     time.Duration(snap.PausedTotalSec) * time.Second,
		Active:          true,
		Paused:          snap.Paused,
		PausedAt:        snap.PausedAt,
		IncreasePercent: snap.IncreasePercent,
		Version:         snap.Version,
	}, nil
}

// Invalidate drops the snapshot; the next read falls through to the store.
func (pc *PhaseCache) Invalidate(ctx context.Context) error {
	if err := pc.rdb.Del(ctx, activePhaseKey).Err(); err != nil {
		return fmt.Errorf("redis: invalidate active phase: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PhaseCache = (*PhaseCache)(nil)

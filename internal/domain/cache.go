package domain

import (
	"context"
	"time"
)

// PhaseCache holds a snapshot of the active phase so price quotes do not hit
// the database. The snapshot may lag the write path slightly; the sale
// transaction always re-reads authoritative state.
type PhaseCache interface {
	SetActive(ctx context.Context, p Phase) error
	Active(ctx context.Context) (Phase, error)
	Invalidate(ctx context.Context) error
}

// PriceCache stores the last computed price per item.
type PriceCache interface {
	SetPrice(ctx context.Context, itemID string, price Cents, ts time.Time) error
	GetPrice(ctx context.Context, itemID string) (Cents, time.Time, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking; used to keep a single expire
// sweeper active across server processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides fire-and-forget pub/sub for phase, sale and offer
// events. The websocket hub and external consumers subscribe.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

package domain

import (
	"context"
	"time"
)

// TickCache stores the latest tick per (exchange, pair).
type TickCache interface {
	SetTick(ctx context.Context, tick PriceTick) error
	// GetTick returns ErrNotFound when no tick is cached.
	GetTick(ctx context.Context, exchange string, pair TokenPair) (PriceTick, error)
}

// RateLimiter bounds outbound call rates (notification retries, advisory
// calls).
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter uploads a single object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}

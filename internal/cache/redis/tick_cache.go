package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// tickTTL expires stale entries so a dead venue's last price does not linger.
const tickTTL = 5 * time.Minute

// TickCache implements domain.TickCache using Redis hashes. Each venue's
// latest tick is stored at "tick:{exchange}:{pair}" with fields price,
// liquidity, volume, and ts (Unix nanosecond timestamp).
type TickCache struct {
	rdb *redis.Client
}

// NewTickCache creates a TickCache backed by the given Client.
func NewTickCache(c *Client) *TickCache {
	return &TickCache{rdb: c.Underlying()}
}

func tickKey(exchange string, pair domain.TokenPair) string {
	return "tick:" + exchange + ":" + pair.String()
}

// SetTick stores the latest tick for its (exchange, pair).
func (tc *TickCache) SetTick(ctx context.Context, tick domain.PriceTick) error {
	key := tickKey(tick.Exchange, tick.Pair)
	fields := map[string]interface{}{
		"price":     strconv.FormatFloat(tick.Price, 'f', -1, 64),
		"liquidity": strconv.FormatFloat(tick.Liquidity, 'f', -1, 64),
		"volume":    strconv.FormatFloat(tick.Volume24h, 'f', -1, 64),
		"ts":        strconv.FormatInt(tick.Timestamp.UnixNano(), 10),
	}
	pipe := tc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, tickTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set tick %s: %w", key, err)
	}
	return nil
}

// GetTick retrieves the latest tick for (exchange, pair). It returns
// domain.ErrNotFound when no tick is cached.
func (tc *TickCache) GetTick(ctx context.Context, exchange string, pair domain.TokenPair) (domain.PriceTick, error) {
	key := tickKey(exchange, pair)
	vals, err := tc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("redis: get tick %s: %w", key, err)
	}
	if len(vals) == 0 {
		return domain.PriceTick{}, domain.ErrNotFound
	}

	tick := domain.PriceTick{Exchange: exchange, Pair: pair}
	if tick.Price, err = strconv.ParseFloat(vals["price"], 64); err != nil {
		return domain.PriceTick{}, fmt.Errorf("redis: parse tick price %s: %w", key, err)
	}
	if v, ok := vals["liquidity"]; ok {
		tick.Liquidity, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := vals["volume"]; ok {
		tick.Volume24h, _ = strconv.ParseFloat(v, 64)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("redis: parse tick ts %s: %w", key, err)
	}
	tick.Timestamp = time.Unix(0, tsNano).UTC()

	return tick, nil
}

// Compile-time interface check.
var _ domain.TickCache = (*TickCache)(nil)

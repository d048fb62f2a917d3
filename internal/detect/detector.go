// Package detect derives arbitrage opportunities from batches of normalized
// price ticks. Detection is stateless across batches: each scan looks only at
// the freshest tick per (exchange, pair), so feed ordering and duplicate
// delivery do not matter.
package detect

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// Config configures the detector.
type Config struct {
	// MinProfitPercent is the spread threshold below which a price gap is
	// not an opportunity.
	MinProfitPercent float64
	// TradeSize is the candidate size attached to each opportunity.
	TradeSize float64
	// TTL bounds how long a detected opportunity stays consumable.
	TTL time.Duration
	// MaxTickAge discards ticks older than this at scan time.
	MaxTickAge time.Duration
	// Network is stamped on every opportunity for downstream gas pricing.
	Network string
}

// Detector scans tick batches for cross-venue spreads.
type Detector struct {
	cfg    Config
	logger *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(cfg Config, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "detector")),
	}
}

// Scan groups ticks by pair, keeps the freshest tick per venue, and emits one
// opportunity per pair whose best cross-venue spread clears the profit
// threshold. Ticks older than MaxTickAge are ignored.
func (d *Detector) Scan(ticks []domain.PriceTick, now time.Time) []domain.Opportunity {
	latest := make(map[domain.TokenPair]map[string]domain.PriceTick)
	for _, t := range ticks {
		if t.Price <= 0 || !t.Pair.Valid() {
			continue
		}
		if t.Stale(now, d.cfg.MaxTickAge) {
			continue
		}
		byVenue, ok := latest[t.Pair]
		if !ok {
			byVenue = make(map[string]domain.PriceTick)
			latest[t.Pair] = byVenue
		}
		if prev, ok := byVenue[t.Exchange]; !ok || t.Timestamp.After(prev.Timestamp) {
			byVenue[t.Exchange] = t
		}
	}

	var opps []domain.Opportunity
	for pair, byVenue := range latest {
		if len(byVenue) < 2 {
			continue
		}
		var buy, sell domain.PriceTick
		for _, t := range byVenue {
			if buy.Exchange == "" || t.Price < buy.Price {
				buy = t
			}
			if sell.Exchange == "" || t.Price > sell.Price {
				sell = t
			}
		}
		if buy.Exchange == sell.Exchange {
			continue
		}

		spreadPct := (sell.Price - buy.Price) / buy.Price * 100
		if spreadPct < d.cfg.MinProfitPercent {
			continue
		}

		opp := domain.Opportunity{
			ID:            uuid.New().String(),
			Pair:          pair,
			BuyVenue:      buy.Exchange,
			SellVenue:     sell.Exchange,
			BuyPrice:      buy.Price,
			SellPrice:     sell.Price,
			SpreadPercent: spreadPct,
			Size:          d.sizeFor(buy, sell),
			BuyLiquidity:  buy.Liquidity,
			SellLiquidity: sell.Liquidity,
			Network:       d.cfg.Network,
			DetectedAt:    now,
			ExpiresAt:     now.Add(d.cfg.TTL),
		}
		opps = append(opps, opp)

		d.logger.Debug("opportunity detected",
			slog.String("pair", pair.String()),
			slog.String("buy_venue", buy.Exchange),
			slog.String("sell_venue", sell.Exchange),
			slog.Float64("spread_pct", spreadPct),
		)
	}
	return opps
}

// sizeFor caps the configured trade size so a single trade never consumes
// more than 1% of the thinner venue's visible liquidity.
func (d *Detector) sizeFor(buy, sell domain.PriceTick) float64 {
	size := d.cfg.TradeSize
	liq := buy.Liquidity
	if sell.Liquidity > 0 && sell.Liquidity < liq {
		liq = sell.Liquidity
	}
	if liq > 0 {
		if maxSize := liq * 0.01 / buy.Price; maxSize < size {
			size = maxSize
		}
	}
	return size
}

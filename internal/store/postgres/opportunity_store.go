package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates an OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const oppSelectCols = `id, pair, buy_venue, sell_venue, buy_price, sell_price,
	spread_percent, size, buy_liquidity, sell_liquidity, network, detected_at, expires_at`

func scanOppRows(rows pgx.Rows) ([]domain.Opportunity, error) {
	defer rows.Close()
	var opps []domain.Opportunity
	for rows.Next() {
		var (
			o    domain.Opportunity
			pair string
		)
		if err := rows.Scan(
			&o.ID, &pair, &o.BuyVenue, &o.SellVenue, &o.BuyPrice, &o.SellPrice,
			&o.SpreadPercent, &o.Size, &o.BuyLiquidity, &o.SellLiquidity,
			&o.Network, &o.DetectedAt, &o.ExpiresAt,
		); err != nil {
			return nil, err
		}
		var err error
		if o.Pair, err = domain.ParsePair(pair); err != nil {
			return nil, err
		}
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

// Insert records a detected opportunity. Re-inserting the same ID is a no-op.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	const query = `
		INSERT INTO opportunities (
			id, pair, buy_venue, sell_venue, buy_price, sell_price,
			spread_percent, size, buy_liquidity, sell_liquidity,
			network, detected_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		opp.ID, opp.Pair.String(), opp.BuyVenue, opp.SellVenue, opp.BuyPrice, opp.SellPrice,
		opp.SpreadPercent, opp.Size, opp.BuyLiquidity, opp.SellLiquidity,
		opp.Network, opp.DetectedAt, opp.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// MarkAdmitted flags an opportunity as handed to a coordinator.
func (s *OpportunityStore) MarkAdmitted(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET admitted = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity %s admitted: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the latest detected opportunities.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+oppSelectCols+` FROM opportunities
		 ORDER BY detected_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	return scanOppRows(rows)
}

// ListBefore returns opportunities detected before the cutoff, for archival.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+oppSelectCols+` FROM opportunities
		 WHERE detected_at < $1 ORDER BY detected_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before, err)
	}
	return scanOppRows(rows)
}

// DeleteBefore removes archived opportunities.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM opportunities WHERE detected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Leg transactions
// are stored as JSONB alongside the scalar columns.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, opportunity_id, pair, buy_venue, sell_venue, network,
	size, buy_price, sell_price, status, expected_profit, realized_profit,
	risk_score, error_detail, buy_tx, sell_tx,
	created_at, buy_submitted_at, buy_confirmed_at, sell_submitted_at, finished_at`

func marshalTx(tx *domain.PendingTransaction) ([]byte, error) {
	if tx == nil {
		return nil, nil
	}
	return json.Marshal(tx)
}

func unmarshalTx(data []byte) (*domain.PendingTransaction, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var tx domain.PendingTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t            domain.Trade
		pair         string
		buyTx, sellTx []byte
	)
	err := row.Scan(
		&t.ID, &t.OpportunityID, &pair, &t.BuyVenue, &t.SellVenue, &t.Network,
		&t.Size, &t.BuyPrice, &t.SellPrice, &t.Status, &t.ExpectedProfit, &t.RealizedProfit,
		&t.RiskScore, &t.ErrorDetail, &buyTx, &sellTx,
		&t.CreatedAt, &t.BuySubmittedAt, &t.BuyConfirmedAt, &t.SellSubmittedAt, &t.FinishedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	if t.Pair, err = domain.ParsePair(pair); err != nil {
		return domain.Trade{}, err
	}
	if t.BuyTx, err = unmarshalTx(buyTx); err != nil {
		return domain.Trade{}, err
	}
	if t.SellTx, err = unmarshalTx(sellTx); err != nil {
		return domain.Trade{}, err
	}
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Create inserts the initial record for an admitted trade.
func (s *TradeStore) Create(ctx context.Context, trade domain.Trade) error {
	buyTx, err := marshalTx(trade.BuyTx)
	if err != nil {
		return fmt.Errorf("postgres: marshal buy tx: %w", err)
	}
	sellTx, err := marshalTx(trade.SellTx)
	if err != nil {
		return fmt.Errorf("postgres: marshal sell tx: %w", err)
	}

	const query = `
		INSERT INTO trades (
			id, opportunity_id, pair, buy_venue, sell_venue, network,
			size, buy_price, sell_price, status, expected_profit, realized_profit,
			risk_score, error_detail, buy_tx, sell_tx,
			created_at, buy_submitted_at, buy_confirmed_at, sell_submitted_at, finished_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20, $21
		) ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		trade.ID, trade.OpportunityID, trade.Pair.String(), trade.BuyVenue, trade.SellVenue, trade.Network,
		trade.Size, trade.BuyPrice, trade.SellPrice, trade.Status, trade.ExpectedProfit, trade.RealizedProfit,
		trade.RiskScore, trade.ErrorDetail, buyTx, sellTx,
		trade.CreatedAt, trade.BuySubmittedAt, trade.BuyConfirmedAt, trade.SellSubmittedAt, trade.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", trade.ID, err)
	}
	return nil
}

// SaveTerminal overwrites the record for a trade that reached a terminal
// status.
func (s *TradeStore) SaveTerminal(ctx context.Context, trade domain.Trade) error {
	buyTx, err := marshalTx(trade.BuyTx)
	if err != nil {
		return fmt.Errorf("postgres: marshal buy tx: %w", err)
	}
	sellTx, err := marshalTx(trade.SellTx)
	if err != nil {
		return fmt.Errorf("postgres: marshal sell tx: %w", err)
	}

	const query = `
		UPDATE trades SET
			status = $2, expected_profit = $3, realized_profit = $4,
			risk_score = $5, error_detail = $6, buy_tx = $7, sell_tx = $8,
			buy_submitted_at = $9, buy_confirmed_at = $10,
			sell_submitted_at = $11, finished_at = $12
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		trade.ID, trade.Status, trade.ExpectedProfit, trade.RealizedProfit,
		trade.RiskScore, trade.ErrorDetail, buyTx, sellTx,
		trade.BuySubmittedAt, trade.BuyConfirmedAt,
		trade.SellSubmittedAt, trade.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save trade %s: %w", trade.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// The create may have been lost; persist the full record.
		return s.Create(ctx, trade)
	}
	return nil
}

// GetByID returns a single trade or domain.ErrNotFound.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// ListRecent returns trades ordered most recent first.
func (s *TradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	return scanTradeRows(rows)
}

// ListUnresolved returns trades holding inventory that needs operator action.
func (s *TradeStore) ListUnresolved(ctx context.Context) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE status = $1 ORDER BY created_at DESC`,
		domain.TradeStatusFailedSellUnresolved)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unresolved trades: %w", err)
	}
	return scanTradeRows(rows)
}

// ListBefore returns trades created before the cutoff, for archival.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE created_at < $1 ORDER BY created_at ASC`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before, err)
	}
	return scanTradeRows(rows)
}

// DeleteBefore removes archived trades and reports how many rows went away.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM trades WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)

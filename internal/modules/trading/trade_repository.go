package trading

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/stockledger/internal/domain"
	"github.com/aristath/stockledger/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// tradesColumns is the list of columns for the trades table
// Column order must match scanTrade()
const tradesColumns = `id, trade_id, user_id, instrument_id, side, quantity, price, executed_at`

// TradeRepository handles the append-only trade log in ledger.db.
type TradeRepository struct {
	ledgerDB *sql.DB
	now      domain.Clock
	log      zerolog.Logger
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(ledgerDB *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		ledgerDB: ledgerDB,
		now:      domain.SystemClock,
		log:      log.With().Str("repo", "trade").Logger(),
	}
}

// Append writes a trade record. Records are never updated or deleted.
func (r *TradeRepository) Append(ctx context.Context, trade Trade) error {
	if err := validateTrade(trade); err != nil {
		return fmt.Errorf("failed to append trade: %w", err)
	}

	_, err := r.ledgerDB.ExecContext(ctx, `
		INSERT INTO trades (trade_id, user_id, instrument_id, side, quantity, price, executed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.TradeID, trade.UserID, trade.InstrumentID, string(trade.Side), trade.Quantity,
		trade.Price.String(), trade.ExecutedAt.UnixMilli(), r.now().UnixMilli())
	if err != nil {
		return domain.NewStorageError("trades.append", err)
	}

	r.log.Debug().
		Str("trade_id", trade.TradeID).
		Str("user_id", trade.UserID).
		Str("side", string(trade.Side)).
		Msg("Trade appended")
	return nil
}

// History returns the user's trades newest first. limit <= 0 returns all.
func (r *TradeRepository) History(ctx context.Context, userID string, limit int) ([]Trade, error) {
	query := "SELECT " + tradesColumns + " FROM trades WHERE user_id = ? ORDER BY executed_at DESC, id DESC"
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	trades := []Trade{}
	err := r.query(ctx, "trades.history", query, args, func(t Trade) bool {
		trades = append(trades, t)
		return true
	})
	if err != nil {
		return nil, err
	}
	return trades, nil
}

// Each streams the user's trades oldest first, stopping early when fn
// returns false.
func (r *TradeRepository) Each(ctx context.Context, userID string, fn func(Trade) bool) error {
	query := "SELECT " + tradesColumns + " FROM trades WHERE user_id = ? ORDER BY executed_at, id"
	return r.query(ctx, "trades.each", query, []interface{}{userID}, fn)
}

// Since returns the user's trades executed at or after from, oldest first.
func (r *TradeRepository) Since(ctx context.Context, userID string, from time.Time) ([]Trade, error) {
	query := "SELECT " + tradesColumns + " FROM trades WHERE user_id = ? AND executed_at >= ? ORDER BY executed_at, id"

	trades := []Trade{}
	err := r.query(ctx, "trades.since", query, []interface{}{userID, from.UnixMilli()}, func(t Trade) bool {
		trades = append(trades, t)
		return true
	})
	if err != nil {
		return nil, err
	}
	return trades, nil
}

// Count returns the number of trades in the log.
func (r *TradeRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.ledgerDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM trades").Scan(&n)
	if err != nil {
		return 0, domain.NewStorageError("trades.count", err)
	}
	return n, nil
}

func (r *TradeRepository) query(ctx context.Context, op, query string, args []interface{}, fn func(Trade) bool) error {
	var scanned int64
	done := utils.MeasureDBQuery(op, r.log)
	defer func() { done(scanned) }()

	rows, err := r.ledgerDB.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.NewStorageError(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return domain.NewStorageError(op, err)
		}
		scanned++
		if !fn(trade) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return domain.NewStorageError(op, err)
	}
	return nil
}

func scanTrade(rows *sql.Rows) (Trade, error) {
	var (
		t          Trade
		side       string
		price      string
		executedAt int64
	)
	if err := rows.Scan(&t.ID, &t.TradeID, &t.UserID, &t.InstrumentID, &side, &t.Quantity, &price, &executedAt); err != nil {
		return Trade{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return Trade{}, fmt.Errorf("failed to parse price %q of trade %s: %w", price, t.TradeID, err)
	}
	t.Side = domain.TradeSide(side)
	t.Price = p
	t.ExecutedAt = time.UnixMilli(executedAt).UTC()
	return t, nil
}

func validateTrade(t Trade) error {
	switch {
	case t.TradeID == "":
		return fmt.Errorf("%w: trade id is required", domain.ErrInvalidInput)
	case t.UserID == "":
		return domain.ErrMissingUser
	case t.InstrumentID == "":
		return domain.ErrMissingID
	case t.Side != domain.SideBuy && t.Side != domain.SideSell:
		return fmt.Errorf("%w: unknown side %q", domain.ErrInvalidInput, t.Side)
	case t.Quantity <= 0:
		return domain.ErrInvalidQuantity
	case !t.Price.IsPositive():
		return domain.ErrInvalidPrice
	}
	return nil
}

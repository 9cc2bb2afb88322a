package portfolio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/stockledger/internal/database"
	"github.com/aristath/stockledger/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PositionRepository handles position database operations in portfolio.db.
type PositionRepository struct {
	portfolioDB *sql.DB
	now         domain.Clock
	log         zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(portfolioDB *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		portfolioDB: portfolioDB,
		now:         domain.SystemClock,
		log:         log.With().Str("repo", "position").Logger(),
	}
}

// Get returns the user's position in an instrument, or nil when none is held.
func (r *PositionRepository) Get(ctx context.Context, userID, instrumentID string) (*Position, error) {
	pos, err := getPosition(ctx, r.portfolioDB, userID, instrumentID)
	if err != nil {
		return nil, domain.NewStorageError("positions.get", err)
	}
	return pos, nil
}

// List returns the user's positions ordered by instrument id.
func (r *PositionRepository) List(ctx context.Context, userID string) ([]Position, error) {
	rows, err := r.portfolioDB.QueryContext(ctx, `
		SELECT user_id, instrument_id, quantity, cost_basis, updated_at
		FROM positions
		WHERE user_id = ?
		ORDER BY instrument_id
	`, userID)
	if err != nil {
		return nil, domain.NewStorageError("positions.list", err)
	}
	defer rows.Close()

	positions := []Position{}
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, domain.NewStorageError("positions.list", err)
		}
		positions = append(positions, *pos)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("positions.list", err)
	}
	return positions, nil
}

// AddLot adds qty shares bought at unitPrice. The cost basis becomes the
// weighted average (q0*b0 + q*p) / (q0 + q); a new position takes unitPrice.
func (r *PositionRepository) AddLot(ctx context.Context, userID, instrumentID string, qty int64, unitPrice decimal.Decimal) (*Position, error) {
	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	if !unitPrice.IsPositive() {
		return nil, domain.ErrInvalidPrice
	}

	var result *Position
	err := database.WithTransaction(ctx, r.portfolioDB, func(tx *sql.Tx) error {
		current, err := getPosition(ctx, tx, userID, instrumentID)
		if err != nil {
			return err
		}

		next := Position{
			UserID:       userID,
			InstrumentID: instrumentID,
			Quantity:     qty,
			CostBasis:    unitPrice,
			UpdatedAt:    r.now(),
		}
		if current != nil {
			next.Quantity = current.Quantity + qty
			next.CostBasis = WeightedAverage(current.Quantity, current.CostBasis, qty, unitPrice)
		}

		if err := upsertPosition(ctx, tx, next); err != nil {
			return err
		}
		result = &next
		return nil
	})
	if err != nil {
		return nil, domain.NewStorageError("positions.add_lot", err)
	}

	r.log.Debug().
		Str("user_id", userID).
		Str("instrument_id", instrumentID).
		Int64("quantity", result.Quantity).
		Str("cost_basis", result.CostBasis.String()).
		Msg("Lot added")
	return result, nil
}

// ReduceLot removes qty shares. The cost basis is unchanged; the row is deleted
// when the quantity reaches zero, in which case nil is returned.
// Fails with domain.ErrInsufficientShares when fewer than qty are held.
func (r *PositionRepository) ReduceLot(ctx context.Context, userID, instrumentID string, qty int64) (*Position, error) {
	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	var result *Position
	err := database.WithTransaction(ctx, r.portfolioDB, func(tx *sql.Tx) error {
		current, err := getPosition(ctx, tx, userID, instrumentID)
		if err != nil {
			return domain.NewStorageError("positions.reduce_lot", err)
		}

		held := int64(0)
		if current != nil {
			held = current.Quantity
		}
		if held < qty {
			return fmt.Errorf("holding %d of %s, selling %d: %w", held, instrumentID, qty, domain.ErrInsufficientShares)
		}

		if held == qty {
			_, err := tx.ExecContext(ctx,
				"DELETE FROM positions WHERE user_id = ? AND instrument_id = ?", userID, instrumentID)
			if err != nil {
				return domain.NewStorageError("positions.reduce_lot", err)
			}
			return nil
		}

		next := *current
		next.Quantity = held - qty
		next.UpdatedAt = r.now()
		if err := upsertPosition(ctx, tx, next); err != nil {
			return domain.NewStorageError("positions.reduce_lot", err)
		}
		result = &next
		return nil
	})
	if err != nil {
		if domain.KindOf(err) == domain.KindUnknown {
			return nil, domain.NewStorageError("positions.reduce_lot", err)
		}
		return nil, err
	}
	return result, nil
}

// Restore puts back the exact prior row of a position. A nil prev removes the
// position. Used only to compensate a failed trade.
func (r *PositionRepository) Restore(ctx context.Context, userID, instrumentID string, prev *Position) error {
	var err error
	if prev == nil {
		_, err = r.portfolioDB.ExecContext(ctx,
			"DELETE FROM positions WHERE user_id = ? AND instrument_id = ?", userID, instrumentID)
	} else {
		err = upsertPosition(ctx, r.portfolioDB, *prev)
	}
	if err != nil {
		return domain.NewStorageError("positions.restore", err)
	}

	r.log.Warn().Str("user_id", userID).Str("instrument_id", instrumentID).Msg("Position restored")
	return nil
}

// CountInvalid returns the number of rows with a non-positive quantity or a
// negative cost basis. The schema forbids the first; the audit checks anyway.
func (r *PositionRepository) CountInvalid(ctx context.Context) (int, error) {
	rows, err := r.portfolioDB.QueryContext(ctx, "SELECT quantity, cost_basis FROM positions")
	if err != nil {
		return 0, domain.NewStorageError("positions.count_invalid", err)
	}
	defer rows.Close()

	invalid := 0
	for rows.Next() {
		var qty int64
		var raw string
		if err := rows.Scan(&qty, &raw); err != nil {
			return 0, domain.NewStorageError("positions.count_invalid", err)
		}
		basis, err := decimal.NewFromString(raw)
		if qty <= 0 || err != nil || basis.IsNegative() {
			invalid++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, domain.NewStorageError("positions.count_invalid", err)
	}
	return invalid, nil
}

// WeightedAverage returns (q0*b0 + q1*b1) / (q0 + q1).
func WeightedAverage(q0 int64, b0 decimal.Decimal, q1 int64, b1 decimal.Decimal) decimal.Decimal {
	total := q0 + q1
	if total == 0 {
		return decimal.Zero
	}
	cost := b0.Mul(decimal.NewFromInt(q0)).Add(b1.Mul(decimal.NewFromInt(q1)))
	return cost.Div(decimal.NewFromInt(total))
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func getPosition(ctx context.Context, q querier, userID, instrumentID string) (*Position, error) {
	row := q.QueryRowContext(ctx, `
		SELECT user_id, instrument_id, quantity, cost_basis, updated_at
		FROM positions
		WHERE user_id = ? AND instrument_id = ?
	`, userID, instrumentID)

	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pos, nil
}

func upsertPosition(ctx context.Context, q querier, pos Position) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO positions (user_id, instrument_id, quantity, cost_basis, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, instrument_id) DO UPDATE SET
			quantity = excluded.quantity,
			cost_basis = excluded.cost_basis,
			updated_at = excluded.updated_at
	`, pos.UserID, pos.InstrumentID, pos.Quantity, pos.CostBasis.String(), pos.UpdatedAt.UnixMilli())
	return err
}

func scanPosition(row rowScanner) (*Position, error) {
	var (
		pos       Position
		basis     string
		updatedAt int64
	)
	if err := row.Scan(&pos.UserID, &pos.InstrumentID, &pos.Quantity, &basis, &updatedAt); err != nil {
		return nil, err
	}
	cost, err := decimal.NewFromString(basis)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cost basis %q: %w", basis, err)
	}
	pos.CostBasis = cost
	pos.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &pos, nil
}

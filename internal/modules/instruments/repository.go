package instruments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/stockledger/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const instrumentColumns = `id, company_name, sector, unit_price, remaining, status, created_at, updated_at`

// Repository handles instrument persistence in universe.db.
// Remaining inventory only ever changes through single conditional statements,
// so concurrent reservations can never drive it negative.
type Repository struct {
	universeDB      *sql.DB
	requireApproved bool
	now             domain.Clock
	log             zerolog.Logger
}

// NewRepository creates a new instrument repository.
// When requireApproved is set, Reserve treats pending and rejected instruments
// as unknown.
func NewRepository(universeDB *sql.DB, requireApproved bool, log zerolog.Logger) *Repository {
	return &Repository{
		universeDB:      universeDB,
		requireApproved: requireApproved,
		now:             domain.SystemClock,
		log:             log.With().Str("repo", "instruments").Logger(),
	}
}

// Get returns the instrument with the given id, or domain.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*Instrument, error) {
	if id == "" {
		return nil, domain.ErrMissingID
	}

	row := r.universeDB.QueryRowContext(ctx,
		"SELECT "+instrumentColumns+" FROM instruments WHERE id = ?", id)

	inst, err := scanInstrument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instrument %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.NewStorageError("instruments.get", err)
	}
	return inst, nil
}

// List returns all instruments ordered by id. An empty status lists every
// instrument.
func (r *Repository) List(ctx context.Context, status domain.InstrumentStatus) ([]Instrument, error) {
	query := "SELECT " + instrumentColumns + " FROM instruments"
	var args []interface{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY id"

	rows, err := r.universeDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("instruments.list", err)
	}
	defer rows.Close()

	var result []Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, domain.NewStorageError("instruments.list", err)
		}
		result = append(result, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("instruments.list", err)
	}
	return result, nil
}

// Prices returns the current unit price of each requested instrument. Unknown
// ids are absent from the result.
func (r *Repository) Prices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(ids))
	for _, id := range ids {
		if _, seen := prices[id]; seen {
			continue
		}
		inst, err := r.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		prices[id] = inst.UnitPrice
	}
	return prices, nil
}

// Reserve atomically takes qty shares out of remaining inventory and returns
// the instrument as of the reservation. Its unit price is the price of the
// trade.
//
// Fails with domain.ErrNotFound for unknown ids (and, under the approval
// policy, for non-approved instruments) and domain.ErrInsufficientInventory
// when fewer than qty shares remain.
func (r *Repository) Reserve(ctx context.Context, id string, qty int64) (*Instrument, error) {
	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	if id == "" {
		return nil, domain.ErrMissingID
	}

	query := `UPDATE instruments
		SET remaining = remaining - ?, updated_at = ?
		WHERE id = ? AND remaining >= ?`
	args := []interface{}{qty, r.now().UnixMilli(), id, qty}
	if r.requireApproved {
		query += " AND status = ?"
		args = append(args, string(domain.StatusApproved))
	}
	query += " RETURNING " + instrumentColumns

	inst, err := scanInstrument(r.universeDB.QueryRowContext(ctx, query, args...))
	if err == nil {
		r.log.Debug().
			Str("instrument_id", id).
			Int64("quantity", qty).
			Int64("remaining", inst.Remaining).
			Msg("Reserved inventory")
		return inst, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewStorageError("instruments.reserve", err)
	}

	// Nothing matched: tell an unknown instrument apart from a short one.
	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if r.requireApproved && !current.Tradable() {
		return nil, fmt.Errorf("instrument %s is %s: %w", id, current.Status, domain.ErrNotFound)
	}
	return nil, fmt.Errorf("instrument %s has %d remaining, requested %d: %w",
		id, current.Remaining, qty, domain.ErrInsufficientInventory)
}

// Release atomically returns qty shares to remaining inventory. Inventory is
// not capped at any issued total.
func (r *Repository) Release(ctx context.Context, id string, qty int64) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	result, err := r.universeDB.ExecContext(ctx,
		"UPDATE instruments SET remaining = remaining + ?, updated_at = ? WHERE id = ?",
		qty, r.now().UnixMilli(), id)
	if err != nil {
		return domain.NewStorageError("instruments.release", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return domain.NewStorageError("instruments.release", err)
	}
	if affected == 0 {
		return fmt.Errorf("instrument %s: %w", id, domain.ErrNotFound)
	}

	r.log.Debug().Str("instrument_id", id).Int64("quantity", qty).Msg("Released inventory")
	return nil
}

// Withdraw takes back shares handed over by Release. Unlike Reserve it ignores
// the approval policy, so a released sale can be undone after the instrument
// stops being tradable.
func (r *Repository) Withdraw(ctx context.Context, id string, qty int64) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	result, err := r.universeDB.ExecContext(ctx,
		`UPDATE instruments SET remaining = remaining - ?, updated_at = ?
		WHERE id = ? AND remaining >= ?`,
		qty, r.now().UnixMilli(), id, qty)
	if err != nil {
		return domain.NewStorageError("instruments.withdraw", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return domain.NewStorageError("instruments.withdraw", err)
	}
	if affected == 0 {
		current, getErr := r.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("instrument %s has %d remaining, withdrawing %d: %w",
			id, current.Remaining, qty, domain.ErrInsufficientInventory)
	}

	r.log.Debug().Str("instrument_id", id).Int64("quantity", qty).Msg("Withdrew inventory")
	return nil
}

// Upsert inserts a catalog entry or refreshes the metadata, price and status of
// an existing one. Remaining inventory is only taken from inst on insert; for
// existing rows it is owned by Reserve/Release.
func (r *Repository) Upsert(ctx context.Context, inst Instrument) error {
	if inst.ID == "" {
		return domain.ErrMissingID
	}
	if !inst.UnitPrice.IsPositive() {
		return domain.ErrInvalidPrice
	}
	if inst.Remaining < 0 {
		return fmt.Errorf("%w: remaining inventory cannot be negative", domain.ErrInvalidInput)
	}
	if inst.Status == "" {
		inst.Status = domain.StatusPending
	}
	if !inst.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, inst.Status)
	}

	now := r.now().UnixMilli()
	_, err := r.universeDB.ExecContext(ctx, `
		INSERT INTO instruments (id, company_name, sector, unit_price, remaining, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_name = excluded.company_name,
			sector = excluded.sector,
			unit_price = excluded.unit_price,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, inst.ID, inst.CompanyName, inst.Sector, inst.UnitPrice.String(), inst.Remaining,
		string(inst.Status), now, now)
	if err != nil {
		return domain.NewStorageError("instruments.upsert", err)
	}
	return nil
}

// Count returns the number of catalog entries.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.universeDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM instruments").Scan(&n); err != nil {
		return 0, domain.NewStorageError("instruments.count", err)
	}
	return n, nil
}

// CountNegative returns the number of instruments whose remaining inventory
// is below zero. Used by the integrity audit.
func (r *Repository) CountNegative(ctx context.Context) (int, error) {
	var n int
	if err := r.universeDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM instruments WHERE remaining < 0").Scan(&n); err != nil {
		return 0, domain.NewStorageError("instruments.count_negative", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstrument(row rowScanner) (*Instrument, error) {
	var (
		inst      Instrument
		price     string
		status    string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&inst.ID, &inst.CompanyName, &inst.Sector, &price,
		&inst.Remaining, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	unitPrice, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unit price %q for %s: %w", price, inst.ID, err)
	}
	inst.UnitPrice = unitPrice
	inst.Status = domain.InstrumentStatus(status)
	inst.CreatedAt = time.UnixMilli(createdAt).UTC()
	inst.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &inst, nil
}

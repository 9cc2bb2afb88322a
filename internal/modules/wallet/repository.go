package wallet

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

// Repository handles wallet persistence in portfolio.db.
// Every balance change and its entry are written in the same transaction, so
// the balance always equals the signed sum of the entries.
type Repository struct {
	portfolioDB *sql.DB
	now         domain.Clock
	log         zerolog.Logger
}

// NewRepository creates a new wallet repository.
//
// Parameters:
//   - portfolioDB: Database connection to portfolio.db
//   - log: Structured logger
//
// Returns:
//   - *Repository: Initialized repository instance
func NewRepository(portfolioDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		portfolioDB: portfolioDB,
		now:         domain.SystemClock,
		log:         log.With().Str("repo", "wallet").Logger(),
	}
}

// GetOrCreate returns the user's wallet, creating an empty one on first use.
//
// Parameters:
//   - ctx: Request context
//   - userID: Owner of the wallet
//
// Returns:
//   - *Wallet: Wallet with its entries in the order they were written
//   - error: domain.ErrMissingUser or a storage error
func (r *Repository) GetOrCreate(ctx context.Context, userID string) (*Wallet, error) {
	if userID == "" {
		return nil, domain.ErrMissingUser
	}

	now := r.now().UnixMilli()
	if _, err := r.portfolioDB.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance, created_at, updated_at)
		VALUES (?, '0', ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, now, now); err != nil {
		return nil, domain.NewStorageError("wallet.create", err)
	}

	return r.Get(ctx, userID)
}

// Get returns the user's wallet or domain.ErrNotFound if none was created yet.
func (r *Repository) Get(ctx context.Context, userID string) (*Wallet, error) {
	var (
		w                    Wallet
		balance              string
		createdAt, updatedAt int64
	)
	err := r.portfolioDB.QueryRowContext(ctx,
		"SELECT user_id, balance, created_at, updated_at FROM wallets WHERE user_id = ?",
		userID,
	).Scan(&w.UserID, &balance, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("wallet for %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.NewStorageError("wallet.get", err)
	}

	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, domain.NewStorageError("wallet.get", fmt.Errorf("failed to parse balance %q: %w", balance, err))
	}
	w.CreatedAt = time.UnixMilli(createdAt).UTC()
	w.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	if w.Entries, err = r.Entries(ctx, userID); err != nil {
		return nil, err
	}
	return &w, nil
}

// Balance returns the user's balance. A user without a wallet has zero.
func (r *Repository) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance string
	err := r.portfolioDB.QueryRowContext(ctx,
		"SELECT balance FROM wallets WHERE user_id = ?", userID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, domain.NewStorageError("wallet.balance", err)
	}

	value, err := decimal.NewFromString(balance)
	if err != nil {
		return decimal.Zero, domain.NewStorageError("wallet.balance", err)
	}
	return value, nil
}

// Entries returns the user's wallet entries oldest first.
func (r *Repository) Entries(ctx context.Context, userID string) ([]Entry, error) {
	rows, err := r.portfolioDB.QueryContext(ctx, `
		SELECT id, user_id, kind, amount, delta, COALESCE(instrument_id, ''), COALESCE(quantity, 0), created_at
		FROM wallet_entries
		WHERE user_id = ?
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, domain.NewStorageError("wallet.entries", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e             Entry
			kind          string
			amount, delta string
			createdAt     int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &amount, &delta, &e.InstrumentID, &e.Quantity, &createdAt); err != nil {
			return nil, domain.NewStorageError("wallet.entries", err)
		}
		e.Kind = domain.EntryKind(kind)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, domain.NewStorageError("wallet.entries", err)
		}
		if e.Delta, err = decimal.NewFromString(delta); err != nil {
			return nil, domain.NewStorageError("wallet.entries", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("wallet.entries", err)
	}
	return entries, nil
}

// Debit takes amount out of the user's balance.
//
// Parameters:
//   - ctx: Request context
//   - userID: Owner of the wallet (created if missing)
//   - amount: Positive amount to remove
//   - meta: Entry metadata; Kind defaults to purchase
//
// Returns:
//   - *Posting: Entry written and balance after it
//   - error: domain.ErrInvalidAmount, domain.ErrInsufficientFunds or a storage error
func (r *Repository) Debit(ctx context.Context, userID string, amount decimal.Decimal, meta EntryMeta) (*Posting, error) {
	if meta.Kind == "" {
		meta.Kind = domain.EntryPurchase
	}
	return r.apply(ctx, "wallet.debit", userID, amount, amount.Neg(), meta)
}

// Credit adds amount to the user's balance. Kind defaults to sale.
func (r *Repository) Credit(ctx context.Context, userID string, amount decimal.Decimal, meta EntryMeta) (*Posting, error) {
	if meta.Kind == "" {
		meta.Kind = domain.EntrySale
	}
	return r.apply(ctx, "wallet.credit", userID, amount, amount, meta)
}

func (r *Repository) apply(ctx context.Context, op, userID string, amount, delta decimal.Decimal, meta EntryMeta) (*Posting, error) {
	if userID == "" {
		return nil, domain.ErrMissingUser
	}
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	now := r.now()
	var posting *Posting

	err := database.WithTransaction(ctx, r.portfolioDB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wallets (user_id, balance, created_at, updated_at)
			VALUES (?, '0', ?, ?)
			ON CONFLICT(user_id) DO NOTHING
		`, userID, now.UnixMilli(), now.UnixMilli()); err != nil {
			return domain.NewStorageError(op, err)
		}

		var raw string
		if err := tx.QueryRowContext(ctx, "SELECT balance FROM wallets WHERE user_id = ?", userID).Scan(&raw); err != nil {
			return domain.NewStorageError(op, err)
		}
		current, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.NewStorageError(op, fmt.Errorf("failed to parse balance %q: %w", raw, err))
		}

		next := current.Add(delta)
		if next.IsNegative() {
			return fmt.Errorf("balance %s is below %s: %w", current, amount, domain.ErrInsufficientFunds)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE wallets SET balance = ?, updated_at = ? WHERE user_id = ?",
			next.String(), now.UnixMilli(), userID,
		); err != nil {
			return domain.NewStorageError(op, err)
		}

		var instrumentID interface{}
		var quantity interface{}
		if meta.InstrumentID != "" {
			instrumentID = meta.InstrumentID
		}
		if meta.Quantity != 0 {
			quantity = meta.Quantity
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO wallet_entries (user_id, kind, amount, delta, instrument_id, quantity, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, userID, string(meta.Kind), amount.String(), delta.String(), instrumentID, quantity, now.UnixMilli())
		if err != nil {
			return domain.NewStorageError(op, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.NewStorageError(op, err)
		}

		posting = &Posting{
			Entry: Entry{
				ID:           id,
				UserID:       userID,
				Kind:         meta.Kind,
				Amount:       amount,
				Delta:        delta,
				InstrumentID: meta.InstrumentID,
				Quantity:     meta.Quantity,
				CreatedAt:    now,
			},
			Balance: next,
		}
		return nil
	})
	if err != nil {
		return nil, asStorageError(op, err)
	}

	r.log.Debug().
		Str("user_id", userID).
		Str("kind", string(meta.Kind)).
		Str("delta", delta.String()).
		Str("balance", posting.Balance.String()).
		Msg("Wallet updated")
	return posting, nil
}

// Reconcile checks every wallet against the signed sum of its entries and
// returns the wallets that disagree or are negative.
func (r *Repository) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	sums := make(map[string]decimal.Decimal)

	rows, err := r.portfolioDB.QueryContext(ctx, "SELECT user_id, delta FROM wallet_entries")
	if err != nil {
		return nil, domain.NewStorageError("wallet.reconcile", err)
	}
	for rows.Next() {
		var userID, delta string
		if err := rows.Scan(&userID, &delta); err != nil {
			rows.Close()
			return nil, domain.NewStorageError("wallet.reconcile", err)
		}
		d, err := decimal.NewFromString(delta)
		if err != nil {
			rows.Close()
			return nil, domain.NewStorageError("wallet.reconcile", err)
		}
		sums[userID] = sums[userID].Add(d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("wallet.reconcile", err)
	}

	wallets, err := r.portfolioDB.QueryContext(ctx, "SELECT user_id, balance FROM wallets ORDER BY user_id")
	if err != nil {
		return nil, domain.NewStorageError("wallet.reconcile", err)
	}
	defer wallets.Close()

	var out []Discrepancy
	for wallets.Next() {
		var userID, raw string
		if err := wallets.Scan(&userID, &raw); err != nil {
			return nil, domain.NewStorageError("wallet.reconcile", err)
		}
		balance, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, domain.NewStorageError("wallet.reconcile", err)
		}
		sum := sums[userID]
		if !balance.Equal(sum) || balance.IsNegative() {
			out = append(out, Discrepancy{UserID: userID, Balance: balance, EntrySum: sum})
		}
	}
	if err := wallets.Err(); err != nil {
		return nil, domain.NewStorageError("wallet.reconcile", err)
	}
	return out, nil
}

// asStorageError keeps classified errors as they are and wraps everything
// else (begin/commit failures) as a storage error.
func asStorageError(op string, err error) error {
	if domain.KindOf(err) == domain.KindUnknown {
		return domain.NewStorageError(op, err)
	}
	return err
}

// Package wallet provides the cash ledger: one balance per user plus an
// append-only sub-log of every movement.
package wallet

import (
	"time"

	"github.com/aristath/stockledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Wallet is a user's cash balance with its ordered entries.
type Wallet struct {
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Entries   []Entry         `json:"entries"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Entry is one movement of cash. Amount is always positive; Delta is the
// signed change it applied to the balance.
type Entry struct {
	ID           int64            `json:"id"`
	UserID       string           `json:"user_id"`
	Kind         domain.EntryKind `json:"kind"`
	Amount       decimal.Decimal  `json:"amount"`
	Delta        decimal.Decimal  `json:"delta"`
	InstrumentID string           `json:"instrument_id,omitempty"`
	Quantity     int64            `json:"quantity,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// EntryMeta describes what a debit or credit is for. A zero Kind defaults to
// purchase for Debit and sale for Credit.
type EntryMeta struct {
	Kind         domain.EntryKind
	InstrumentID string
	Quantity     int64
}

// Posting is the result of a balance mutation: the entry written and the
// balance after it.
type Posting struct {
	Entry   Entry
	Balance decimal.Decimal
}

// Discrepancy is a wallet whose stored balance disagrees with its entries or
// is negative.
type Discrepancy struct {
	UserID   string          `json:"user_id"`
	Balance  decimal.Decimal `json:"balance"`
	EntrySum decimal.Decimal `json:"entry_sum"`
}

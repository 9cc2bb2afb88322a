// Package domain provides the error taxonomy and the small value types shared by
// the ledger modules.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// TradeSide is the direction of an executed trade.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// ParseTradeSide accepts any casing ("BUY", "Sell").
func ParseTradeSide(raw string) (TradeSide, error) {
	switch TradeSide(strings.ToLower(strings.TrimSpace(raw))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("%w: unknown trade side %q", ErrInvalidInput, raw)
}

// InstrumentStatus mirrors the catalog's review state.
type InstrumentStatus string

const (
	StatusPending  InstrumentStatus = "pending"
	StatusApproved InstrumentStatus = "approved"
	StatusRejected InstrumentStatus = "rejected"
)

// Valid reports whether s is one of the catalog states.
func (s InstrumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// EntryKind tags a wallet ledger entry.
type EntryKind string

const (
	EntryDeposit    EntryKind = "deposit"
	EntryWithdrawal EntryKind = "withdrawal"
	EntryPurchase   EntryKind = "purchase"
	EntrySale       EntryKind = "sale"
	// EntryReversal is written by a compensating action undoing an earlier entry.
	EntryReversal EntryKind = "reversal"
)

// Clock returns the current time. Injected so tests control timestamps.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

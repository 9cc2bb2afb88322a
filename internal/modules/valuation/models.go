// Package valuation derives current and historical portfolio value from the
// position book, the wallet and the trade log. Nothing here is cached; every
// series is recomputed from the log on each call.
package valuation

import (
	"time"

	"github.com/shopspring/decimal"
)

// Point is one sample of a valuation series.
type Point struct {
	Timestamp time.Time       `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}

// DailyBucket is the net trade cash flow of one UTC calendar day.
type DailyBucket struct {
	Date    string          `json:"date"`
	NetFlow decimal.Decimal `json:"net_flow"`
	Trades  int             `json:"trades"`
}

// Summary describes a valuation series.
type Summary struct {
	Points int             `json:"points"`
	First  decimal.Decimal `json:"first"`
	Last   decimal.Decimal `json:"last"`
	Change decimal.Decimal `json:"change"`
	Mean   float64         `json:"mean"`
	StdDev float64         `json:"std_dev"`
	Min    float64         `json:"min"`
	Max    float64         `json:"max"`
}

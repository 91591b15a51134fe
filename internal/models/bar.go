package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one minute of OHLCV data, unique per (Symbol, TS).
type Bar struct {
	Vendor         string          `json:"vendor"`
	Schema         string          `json:"schema"`
	Symbol         string          `json:"symbol"`
	TS             time.Time       `json:"ts"`
	TSMs           int64           `json:"tsMs"`
	Open           decimal.Decimal `json:"open"`
	High           decimal.Decimal `json:"high"`
	Low            decimal.Decimal `json:"low"`
	Close          decimal.Decimal `json:"close"`
	Volume         *int64          `json:"volume,omitempty"`
	IngestionRunID string          `json:"ingestionRunId"`
}

// OHLCConsistent reports whether high is the top and low the bottom of a bar.
func OHLCConsistent(open, high, low, close decimal.Decimal) bool {
	if high.LessThan(decimal.Max(open, close, low)) {
		return false
	}
	if low.GreaterThan(decimal.Min(open, close, high)) {
		return false
	}
	return true
}

// UpsertCounts is the write accounting for one bar upsert.
type UpsertCounts struct {
	Rows     int
	Inserted int
	Updated  int
}

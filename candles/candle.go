package candles

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is a single OHLC bar. Timestamp is the start of the bar's bucket,
// UTC, aligned to the bucket boundary (seconds and below zero).
type Candle struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
}

// Bullish reports whether the bar closed above its open.
func (c Candle) Bullish() bool {
	return c.Close.GreaterThan(c.Open)
}

// Bearish reports whether the bar closed below its open.
func (c Candle) Bearish() bool {
	return c.Close.LessThan(c.Open)
}

// Valid checks the OHLC ordering invariant: low <= open,close <= high,
// all prices positive.
func (c Candle) Valid() bool {
	if c.Low.LessThanOrEqual(decimal.Zero) {
		return false
	}
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) {
		return false
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		return false
	}
	return true
}

// FloorToMinute drops seconds and below, keeping the time in UTC.
func FloorToMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

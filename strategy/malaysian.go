package strategy

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fxguy0/derivbot/candles"
)

var two = decimal.NewFromInt(2)

// Malaysian trades 4h momentum continuation confirmed by a 15m reversal
// candle near the previous 4h open. The confirmation window is the 4h span
// ending at the current candle's open time.
type Malaysian struct {
	pip        decimal.Decimal
	bufferPips decimal.Decimal
	lowRatio   decimal.Decimal // initial reward multiple
	highRatio  decimal.Decimal // floor enforced after tightening
}

// NewMalaysian builds the strategy from its pricing parameters.
func NewMalaysian(pip, bufferPips, lowRatio, highRatio decimal.Decimal) *Malaysian {
	return &Malaysian{pip: pip, bufferPips: bufferPips, lowRatio: lowRatio, highRatio: highRatio}
}

func (m *Malaysian) Name() string { return "Malaysian" }

// Analyze walks consecutive 4h pairs, requiring higher lows and closes for a
// buy (mirror for sell), a 15m reversal candle inside the safe zone around
// the previous open, and a final reward/risk of at least 2.
func (m *Malaysian) Analyze(h4, m30, m15 []candles.Candle, symbol string) []Signal {
	var out []Signal
	for i := 1; i < len(h4); i++ {
		prev, curr := h4[i-1], h4[i]

		var kind string
		switch {
		case prev.Low.LessThan(curr.Low) && prev.Close.LessThan(curr.Close):
			kind = Buy
		case prev.High.GreaterThan(curr.High) && prev.Close.GreaterThan(curr.Close):
			kind = Sell
		default:
			continue
		}

		window := sliceSince(m15, curr.Timestamp.Add(-4*time.Hour))
		if !m.confirmed(kind, prev.Open, window) {
			continue
		}

		entry := curr.Close
		buffer := m.bufferPips.Mul(m.pip)
		var sl decimal.Decimal
		if kind == Buy {
			sl = entry.Sub(buffer)
		} else {
			sl = entry.Add(buffer)
		}
		sl, tp := m.tighten(kind, entry, sl, window)

		sig := Signal{
			Symbol:     symbol,
			Kind:       kind,
			Timestamp:  curr.Timestamp,
			Entry:      entry,
			StopLoss:   sl,
			TakeProfit: tp,
			Strategy:   m.Name(),
		}
		if sig.RiskReward().LessThan(two) || !sig.Validate() {
			continue
		}
		log.Debug().Str("symbol", symbol).Str("kind", kind).
			Time("candle", curr.Timestamp).Msg("malaysian signal")
		out = append(out, sig)
	}
	return out
}

// confirmed looks for a 15m candle whose wick reaches the safe zone around
// center and whose body shows the matching reversal polarity.
func (m *Malaysian) confirmed(kind string, center decimal.Decimal, window []candles.Candle) bool {
	halfWidth := m.pip.Mul(two)
	lo, hi := center.Sub(halfWidth), center.Add(halfWidth)
	for _, c := range window {
		switch kind {
		case Buy:
			if c.Low.GreaterThanOrEqual(lo) && c.Low.LessThanOrEqual(hi) && c.Bullish() {
				return true
			}
		case Sell:
			if c.High.GreaterThanOrEqual(lo) && c.High.LessThanOrEqual(hi) && c.Bearish() {
				return true
			}
		}
	}
	return false
}

// tighten widens the stop to the window's worst extreme and the target to
// its best, then enforces the minimum reward multiple.
func (m *Malaysian) tighten(kind string, entry, sl decimal.Decimal, window []candles.Candle) (decimal.Decimal, decimal.Decimal) {
	risk := entry.Sub(sl).Abs()
	var tp decimal.Decimal
	if kind == Buy {
		tp = entry.Add(m.lowRatio.Mul(risk))
		for _, c := range window {
			if c.Low.LessThan(sl) {
				sl = c.Low
			}
			if c.High.GreaterThan(tp) {
				tp = c.High
			}
		}
	} else {
		tp = entry.Sub(m.lowRatio.Mul(risk))
		for _, c := range window {
			if c.High.GreaterThan(sl) {
				sl = c.High
			}
			if c.Low.LessThan(tp) {
				tp = c.Low
			}
		}
	}

	risk = entry.Sub(sl).Abs()
	minReward := m.highRatio.Mul(risk)
	if tp.Sub(entry).Abs().LessThan(minReward) {
		if kind == Buy {
			tp = entry.Add(minReward)
		} else {
			tp = entry.Sub(minReward)
		}
	}
	return sl, tp
}

// sliceSince returns the suffix of series with timestamps at or after t.
func sliceSince(series []candles.Candle, t time.Time) []candles.Candle {
	for i, c := range series {
		if !c.Timestamp.Before(t) {
			return series[i:]
		}
	}
	return nil
}

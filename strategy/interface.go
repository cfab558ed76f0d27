package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxguy0/derivbot/candles"
)

// Signal kinds.
const (
	Buy  = "buy"
	Sell = "sell"
)

// Strategy is the plug-in interface: a pure analysis pass over aggregated
// candles. Same input, same output; strategies hold no market state.
type Strategy interface {
	// Name returns the strategy identifier stored on signals and matched
	// against user subscriptions.
	Name() string

	// Analyze inspects the aggregated series for one symbol and returns
	// zero or more signals.
	Analyze(h4, m30, m15 []candles.Candle, symbol string) []Signal
}

// Signal is one actionable trade recommendation.
type Signal struct {
	Symbol     string
	Kind       string // Buy or Sell
	Timestamp  time.Time
	Entry      decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Strategy   string
}

// Validate checks that the signal is well-formed: SL and TP on the correct
// sides of entry for its kind.
func (s *Signal) Validate() bool {
	if s.Symbol == "" || s.Entry.IsZero() {
		return false
	}
	switch s.Kind {
	case Buy:
		return s.StopLoss.LessThan(s.Entry) && s.TakeProfit.GreaterThan(s.Entry)
	case Sell:
		return s.StopLoss.GreaterThan(s.Entry) && s.TakeProfit.LessThan(s.Entry)
	}
	return false
}

// RiskReward returns reward/risk, zero when risk is zero.
func (s *Signal) RiskReward() decimal.Decimal {
	risk := s.Entry.Sub(s.StopLoss).Abs()
	if risk.IsZero() {
		return decimal.Zero
	}
	return s.TakeProfit.Sub(s.Entry).Abs().Div(risk)
}

// All runs each strategy over the same series and concatenates the results.
func All(strategies []Strategy, h4, m30, m15 []candles.Candle, symbol string) []Signal {
	var out []Signal
	for _, s := range strategies {
		out = append(out, s.Analyze(h4, m30, m15, symbol)...)
	}
	return out
}

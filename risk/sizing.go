package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fxguy0/derivbot/broker"
	"github.com/fxguy0/derivbot/strategy"
)

var (
	// ErrInvalidKind is returned for signal kinds other than buy or sell.
	ErrInvalidKind = errors.New("risk: invalid signal kind")

	// ErrDegenerateStop is returned when entry equals the stop.
	ErrDegenerateStop = errors.New("risk: entry equals stop loss")
)

// Sizer converts signal prices into stake amounts. All arithmetic is decimal;
// the only rounding happens at the final lot size.
type Sizer struct {
	Pip            decimal.Decimal
	RiskPercentage decimal.Decimal // fraction of balance risked per trade
}

// NewSizer builds a sizer from the pip value and per-trade risk fraction.
func NewSizer(pip, riskPct decimal.Decimal) *Sizer {
	return &Sizer{Pip: pip, RiskPercentage: riskPct}
}

// StopLoss places the stop bufferPips away from entry on the losing side.
func (s *Sizer) StopLoss(entry decimal.Decimal, kind string, bufferPips decimal.Decimal) (decimal.Decimal, error) {
	if !bufferPips.IsPositive() {
		return decimal.Zero, fmt.Errorf("risk: buffer pips must be positive, got %s", bufferPips)
	}
	buffer := bufferPips.Mul(s.Pip)
	switch kind {
	case strategy.Buy:
		return entry.Sub(buffer), nil
	case strategy.Sell:
		return entry.Add(buffer), nil
	}
	return decimal.Zero, ErrInvalidKind
}

// TakeProfit places the target rr risk-multiples away on the winning side.
func (s *Sizer) TakeProfit(entry, sl decimal.Decimal, kind string, rr decimal.Decimal) (decimal.Decimal, error) {
	if entry.Equal(sl) {
		return decimal.Zero, ErrDegenerateStop
	}
	reward := rr.Mul(entry.Sub(sl).Abs())
	switch kind {
	case strategy.Buy:
		return entry.Add(reward), nil
	case strategy.Sell:
		return entry.Sub(reward), nil
	}
	return decimal.Zero, ErrInvalidKind
}

// PositionSize is riskAmount divided by the stop distance in pips, rounded
// to two decimals.
func (s *Sizer) PositionSize(riskAmount, entry, sl decimal.Decimal) (decimal.Decimal, error) {
	if entry.Equal(sl) {
		return decimal.Zero, ErrDegenerateStop
	}
	pips := entry.Sub(sl).Abs().Div(s.Pip)
	return riskAmount.Div(pips).Round(2), nil
}

// RiskAmount reads the account balance over an authorized session and
// returns the stake fraction. Any failure yields zero: a user we cannot
// price does not trade.
func (s *Sizer) RiskAmount(ctx context.Context, api broker.API) decimal.Decimal {
	balance, err := api.Balance(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("balance read failed, risk amount zero")
		return decimal.Zero
	}
	return balance.Mul(s.RiskPercentage)
}

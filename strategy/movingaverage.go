package strategy

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fxguy0/derivbot/candles"
)

var atrStopMult = decimal.RequireFromString("1.5")

// MovingAverage trades the double crossover: the short/mid pair and the
// long/veryLong pair must cross in the same direction on the same 4h step,
// with the latest two 30m bars agreeing. Stops come from ATR.
type MovingAverage struct {
	short, mid, long, veryLong int

	atrPeriod    int
	rewardRatio  decimal.Decimal
	pip          decimal.Decimal
	adxThreshold decimal.Decimal
	adxGate      bool
}

// NewMovingAverage builds the strategy. periods is {short, mid, long,
// veryLong}; adxGate enables the trend-strength filter.
func NewMovingAverage(periods [4]int, atrPeriod int, rewardRatio, pip, adxThreshold decimal.Decimal, adxGate bool) *MovingAverage {
	return &MovingAverage{
		short:        periods[0],
		mid:          periods[1],
		long:         periods[2],
		veryLong:     periods[3],
		atrPeriod:    atrPeriod,
		rewardRatio:  rewardRatio,
		pip:          pip,
		adxThreshold: adxThreshold,
		adxGate:      adxGate,
	}
}

func (ma *MovingAverage) Name() string { return "MovingAverage" }

func (ma *MovingAverage) Analyze(h4, m30, m15 []candles.Candle, symbol string) []Signal {
	if len(h4) < ma.veryLong {
		log.Debug().Str("symbol", symbol).Int("have", len(h4)).Int("need", ma.veryLong).
			Msg("moving average: not enough 4h history")
		return nil
	}

	var out []Signal
	for i := ma.veryLong; i < len(h4); i++ {
		kind := ma.crossover(h4, i)
		if kind == "" {
			continue
		}
		if !ma.confirm30m(m30, kind) {
			continue
		}
		if ma.adxGate && adx(h4[:i+1], ma.atrPeriod).LessThan(ma.adxThreshold) {
			continue
		}

		rng := atr(h4[:i+1], ma.atrPeriod)
		if rng.IsZero() {
			continue
		}

		entry := h4[i].Close
		stop := rng.Mul(atrStopMult)
		var sl, tp decimal.Decimal
		if kind == Buy {
			sl = entry.Sub(stop)
			tp = entry.Add(ma.rewardRatio.Mul(stop))
		} else {
			sl = entry.Add(stop)
			tp = entry.Sub(ma.rewardRatio.Mul(stop))
		}
		if sl.Sub(entry).Abs().LessThan(ma.pip) || tp.Sub(entry).Abs().LessThan(ma.pip) {
			continue
		}

		out = append(out, Signal{
			Symbol:     symbol,
			Kind:       kind,
			Timestamp:  h4[i].Timestamp,
			Entry:      entry,
			StopLoss:   sl,
			TakeProfit: tp,
			Strategy:   ma.Name(),
		})
	}
	return out
}

// crossover classifies the step from i-1 to i. Both pairs must cross on the
// same step.
func (ma *MovingAverage) crossover(series []candles.Candle, i int) string {
	shortPrev, shortCurr := sma(series, i-1, ma.short), sma(series, i, ma.short)
	midPrev, midCurr := sma(series, i-1, ma.mid), sma(series, i, ma.mid)
	longPrev, longCurr := sma(series, i-1, ma.long), sma(series, i, ma.long)
	vlPrev, vlCurr := sma(series, i-1, ma.veryLong), sma(series, i, ma.veryLong)

	if shortCurr.GreaterThan(midCurr) && longCurr.GreaterThan(vlCurr) &&
		shortPrev.LessThanOrEqual(midPrev) && longPrev.LessThanOrEqual(vlPrev) {
		return Buy
	}
	if shortCurr.LessThan(midCurr) && longCurr.LessThan(vlCurr) &&
		shortPrev.GreaterThanOrEqual(midPrev) && longPrev.GreaterThanOrEqual(vlPrev) {
		return Sell
	}
	return ""
}

// confirm30m applies the same crossover test to the latest step of the 30m
// series. Not enough 30m history means no confirmation.
func (ma *MovingAverage) confirm30m(m30 []candles.Candle, kind string) bool {
	if len(m30) < ma.veryLong+1 {
		return false
	}
	return ma.crossover(m30, len(m30)-1) == kind
}

package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/fxguy0/derivbot/candles"
)

// sma is the simple moving average of closes over the window ending at index
// i inclusive. The caller guarantees i >= period-1.
func sma(series []candles.Candle, i, period int) decimal.Decimal {
	sum := decimal.Zero
	for j := i - period + 1; j <= i; j++ {
		sum = sum.Add(series[j].Close)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

// trueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func trueRange(c candles.Candle, prevClose decimal.Decimal) decimal.Decimal {
	tr := c.High.Sub(c.Low)
	if hc := c.High.Sub(prevClose).Abs(); hc.GreaterThan(tr) {
		tr = hc
	}
	if lc := c.Low.Sub(prevClose).Abs(); lc.GreaterThan(tr) {
		tr = lc
	}
	return tr
}

// atr is the average true range over the last period bars of the series.
// Returns zero when the series is too short.
func atr(series []candles.Candle, period int) decimal.Decimal {
	if len(series) < period+1 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for i := len(series) - period; i < len(series); i++ {
		sum = sum.Add(trueRange(series[i], series[i-1].Close))
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

// adx is Wilder's average directional index over the last bars of the
// series, smoothed with simple averages over the period. Returns zero when
// the series is too short to produce a value.
func adx(series []candles.Candle, period int) decimal.Decimal {
	// Need period bars of DX, each of which needs period bars of DM/TR.
	if len(series) < 2*period+1 {
		return decimal.Zero
	}

	hundred := decimal.NewFromInt(100)
	dxSum := decimal.Zero
	for k := 0; k < period; k++ {
		end := len(series) - k

		trSum, plusDM, minusDM := decimal.Zero, decimal.Zero, decimal.Zero
		for i := end - period; i < end; i++ {
			up := series[i].High.Sub(series[i-1].High)
			down := series[i-1].Low.Sub(series[i].Low)
			if up.GreaterThan(down) && up.IsPositive() {
				plusDM = plusDM.Add(up)
			}
			if down.GreaterThan(up) && down.IsPositive() {
				minusDM = minusDM.Add(down)
			}
			trSum = trSum.Add(trueRange(series[i], series[i-1].Close))
		}
		if trSum.IsZero() {
			continue
		}

		plusDI := plusDM.Div(trSum).Mul(hundred)
		minusDI := minusDM.Div(trSum).Mul(hundred)
		diSum := plusDI.Add(minusDI)
		if diSum.IsZero() {
			continue
		}
		dxSum = dxSum.Add(plusDI.Sub(minusDI).Abs().Div(diSum).Mul(hundred))
	}
	return dxSum.Div(decimal.NewFromInt(int64(period)))
}

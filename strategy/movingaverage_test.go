package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxguy0/derivbot/candles"
)

// flatThenJump builds a series of flat bars followed by one jump bar, each
// with a small symmetric wick.
func flatThenJump(start time.Time, step time.Duration, flat int, base, jump string) []candles.Candle {
	wick := d("0.01")
	out := make([]candles.Candle, 0, flat+1)
	mk := func(ts time.Time, v decimal.Decimal) candles.Candle {
		return candles.Candle{Timestamp: ts, Open: v, High: v.Add(wick), Low: v.Sub(wick), Close: v}
	}
	for i := 0; i < flat; i++ {
		out = append(out, mk(start.Add(time.Duration(i)*step), d(base)))
	}
	out = append(out, mk(start.Add(time.Duration(flat)*step), d(jump)))
	return out
}

func newTestMovingAverage() *MovingAverage {
	return NewMovingAverage([4]int{2, 3, 4, 5}, 2, d("1"), d("0.0001"), d("20"), false)
}

func TestMovingAverageDoubleCrossoverBuy(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	h4 := flatThenJump(t0, 4*time.Hour, 6, "1.0", "2.0")
	m30 := flatThenJump(t0, 30*time.Minute, 6, "1.0", "2.0")

	got := newTestMovingAverage().Analyze(h4, m30, nil, "R_75")
	if len(got) != 1 {
		t.Fatalf("signals = %d, want 1", len(got))
	}
	sig := got[0]
	if sig.Kind != Buy {
		t.Errorf("kind = %q, want %q", sig.Kind, Buy)
	}
	if !sig.Entry.Equal(d("2.0")) {
		t.Errorf("entry = %s, want 2.0", sig.Entry)
	}
	if !sig.Timestamp.Equal(h4[6].Timestamp) {
		t.Errorf("timestamp = %s, want %s", sig.Timestamp, h4[6].Timestamp)
	}
	// ATR(2) over the jump bar (TR 1.01) and the bar before (TR 0.02).
	wantStop := d("2.0").Sub(d("0.515").Mul(d("1.5")))
	if !sig.StopLoss.Equal(wantStop) {
		t.Errorf("stop = %s, want %s", sig.StopLoss, wantStop)
	}
	if !sig.Validate() {
		t.Error("signal failed validation")
	}
}

func TestMovingAverageNeedsHistory(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	h4 := flatThenJump(t0, 4*time.Hour, 3, "1.0", "2.0")
	if got := newTestMovingAverage().Analyze(h4, h4, nil, "R_75"); got != nil {
		t.Fatalf("signals = %v, want nil for short history", got)
	}
}

func TestMovingAverageRequires30MAgreement(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	h4 := flatThenJump(t0, 4*time.Hour, 6, "1.0", "2.0")

	// Flat 30m series: no crossover on the latest step, so no signal.
	m30 := flatThenJump(t0, 30*time.Minute, 7, "1.0", "1.0")
	if got := newTestMovingAverage().Analyze(h4, m30, nil, "R_75"); len(got) != 0 {
		t.Fatalf("signals = %d, want 0 without 30m agreement", len(got))
	}

	// Opposite 30m move must not confirm either.
	down := flatThenJump(t0, 30*time.Minute, 6, "2.0", "1.0")
	if got := newTestMovingAverage().Analyze(h4, down, nil, "R_75"); len(got) != 0 {
		t.Fatalf("signals = %d, want 0 with opposing 30m move", len(got))
	}
}

func TestMovingAverageSellMirror(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	h4 := flatThenJump(t0, 4*time.Hour, 6, "2.0", "1.0")
	m30 := flatThenJump(t0, 30*time.Minute, 6, "2.0", "1.0")

	got := newTestMovingAverage().Analyze(h4, m30, nil, "R_100")
	if len(got) != 1 {
		t.Fatalf("signals = %d, want 1", len(got))
	}
	sig := got[0]
	if sig.Kind != Sell {
		t.Fatalf("kind = %q, want %q", sig.Kind, Sell)
	}
	if !sig.StopLoss.GreaterThan(sig.Entry) || !sig.TakeProfit.LessThan(sig.Entry) {
		t.Errorf("sell levels inverted: entry=%s sl=%s tp=%s", sig.Entry, sig.StopLoss, sig.TakeProfit)
	}
}

func TestSignalValidate(t *testing.T) {
	base := Signal{Symbol: "frxEURUSD", Kind: Buy, Entry: d("1.10"), StopLoss: d("1.09"), TakeProfit: d("1.12")}
	if !base.Validate() {
		t.Error("well-formed buy rejected")
	}
	bad := base
	bad.StopLoss, bad.TakeProfit = bad.TakeProfit, bad.StopLoss
	if bad.Validate() {
		t.Error("inverted buy accepted")
	}
	none := base
	none.Kind = "hold"
	if none.Validate() {
		t.Error("unknown kind accepted")
	}
}

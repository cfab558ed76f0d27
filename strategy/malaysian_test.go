package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxguy0/derivbot/candles"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func c4h(ts time.Time, o, h, l, cl string) candles.Candle {
	return candles.Candle{Timestamp: ts, Open: d(o), High: d(h), Low: d(l), Close: d(cl)}
}

func newTestMalaysian() *Malaysian {
	return NewMalaysian(d("0.0001"), d("5"), d("2"), d("2"))
}

func TestMalaysianBuySignal(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	h4 := []candles.Candle{
		c4h(t0, "1.1000", "1.1010", "1.0990", "1.1005"),
		c4h(t0.Add(4*time.Hour), "1.1005", "1.1020", "1.0995", "1.1015"),
	}
	// Reversal candle: low touches the safe zone around 1.1000 and closes up.
	m15 := []candles.Candle{
		c4h(t0.Add(time.Hour), "1.1001", "1.1004", "1.1000", "1.1003"),
	}

	got := newTestMalaysian().Analyze(h4, nil, m15, "frxEURUSD")
	if len(got) != 1 {
		t.Fatalf("signals = %d, want 1", len(got))
	}
	sig := got[0]
	if sig.Kind != Buy {
		t.Errorf("kind = %q, want %q", sig.Kind, Buy)
	}
	if !sig.Entry.Equal(d("1.1015")) {
		t.Errorf("entry = %s, want 1.1015", sig.Entry)
	}
	// The 15m low 1.1000 undercuts the initial stop 1.1010, so the stop
	// widens to it and the target stretches to keep reward/risk at 2.
	if !sig.StopLoss.Equal(d("1.1000")) {
		t.Errorf("stop = %s, want 1.1000", sig.StopLoss)
	}
	if !sig.TakeProfit.Equal(d("1.1045")) {
		t.Errorf("target = %s, want 1.1045", sig.TakeProfit)
	}
	if rr := sig.RiskReward(); rr.LessThan(d("2")) {
		t.Errorf("reward/risk = %s, want >= 2", rr)
	}
	if !sig.Validate() {
		t.Error("signal failed validation")
	}
	if sig.Strategy != "Malaysian" || sig.Symbol != "frxEURUSD" {
		t.Errorf("labels = %q/%q", sig.Strategy, sig.Symbol)
	}
}

func TestMalaysianNoConfirmationNoSignal(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	h4 := []candles.Candle{
		c4h(t0, "1.1000", "1.1010", "1.0990", "1.1005"),
		c4h(t0.Add(4*time.Hour), "1.1005", "1.1020", "1.0995", "1.1015"),
	}
	// Wick in the zone but bearish body: no confirmation.
	m15 := []candles.Candle{
		c4h(t0.Add(time.Hour), "1.1003", "1.1004", "1.1000", "1.1001"),
	}
	if got := newTestMalaysian().Analyze(h4, nil, m15, "frxEURUSD"); len(got) != 0 {
		t.Fatalf("signals = %d, want 0", len(got))
	}
}

func TestMalaysianSellSignal(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	h4 := []candles.Candle{
		c4h(t0, "1.2000", "1.2015", "1.1990", "1.2005"),
		c4h(t0.Add(4*time.Hour), "1.2005", "1.2010", "1.1980", "1.1990"),
	}
	// High reaches the zone around 1.2000, bearish body.
	m15 := []candles.Candle{
		c4h(t0.Add(2*time.Hour), "1.2001", "1.2002", "1.1995", "1.1996"),
	}

	got := newTestMalaysian().Analyze(h4, nil, m15, "frxGBPUSD")
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

func TestMalaysianDeterministic(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	h4 := []candles.Candle{
		c4h(t0, "1.1000", "1.1010", "1.0990", "1.1005"),
		c4h(t0.Add(4*time.Hour), "1.1005", "1.1020", "1.0995", "1.1015"),
	}
	m15 := []candles.Candle{
		c4h(t0.Add(time.Hour), "1.1001", "1.1004", "1.1000", "1.1003"),
	}
	m := newTestMalaysian()
	a := m.Analyze(h4, nil, m15, "frxEURUSD")
	b := m.Analyze(h4, nil, m15, "frxEURUSD")
	if len(a) != len(b) {
		t.Fatalf("run lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].Entry.Equal(b[i].Entry) || !a[i].StopLoss.Equal(b[i].StopLoss) ||
			!a[i].TakeProfit.Equal(b[i].TakeProfit) {
			t.Fatalf("run %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

package feeds

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxguy0/derivbot/broker"
	"github.com/fxguy0/derivbot/candles"
	"github.com/fxguy0/derivbot/storage"
)

// fakeAPI serves canned candle responses, failing the first failN calls.
type fakeAPI struct {
	failN   int
	failErr error
	candles []candles.Candle
	calls   int
}

func (f *fakeAPI) TicksHistory(ctx context.Context, symbol string, start, end time.Time, granularity, count int) ([]candles.Candle, error) {
	f.calls++
	if f.calls <= f.failN {
		return nil, f.failErr
	}
	return f.candles, nil
}

func (f *fakeAPI) Authorize(context.Context, string) (*broker.Account, error) { return nil, nil }
func (f *fakeAPI) ContractsFor(context.Context, string) ([]broker.ContractInfo, error) {
	return nil, nil
}
func (f *fakeAPI) Proposal(context.Context, broker.ProposalSpec) (*broker.ProposalResult, error) {
	return nil, nil
}
func (f *fakeAPI) Buy(context.Context, string, decimal.Decimal) (int64, decimal.Decimal, error) {
	return 0, decimal.Zero, nil
}
func (f *fakeAPI) Sell(context.Context, int64, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeAPI) OpenContract(context.Context, int64) (*broker.ContractState, error) {
	return nil, nil
}
func (f *fakeAPI) Balance(context.Context) (decimal.Decimal, error) { return decimal.Zero, nil }
func (f *fakeAPI) ProfitTable(context.Context, broker.ProfitTableFilter) (*broker.ProfitTable, error) {
	return nil, nil
}
func (f *fakeAPI) Close() {}

type fakeCandleStore struct {
	rows map[string][]storage.CandleRow
}

func (f *fakeCandleStore) UpsertCandle(table string, c storage.CandleRow) error {
	if f.rows == nil {
		f.rows = make(map[string][]storage.CandleRow)
	}
	f.rows[table] = append(f.rows[table], c)
	return nil
}

func minuteCandle(ts time.Time) candles.Candle {
	return candles.Candle{
		Timestamp: ts,
		Open:      decimal.RequireFromString("1.1000"),
		High:      decimal.RequireFromString("1.1002"),
		Low:       decimal.RequireFromString("1.0999"),
		Close:     decimal.RequireFromString("1.1001"),
	}
}

func TestFetchMinuteRetriesTransientErrors(t *testing.T) {
	aligned := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)
	api := &fakeAPI{
		failN:   2,
		failErr: errors.New("read tcp: connection reset"),
		candles: []candles.Candle{minuteCandle(aligned.Add(-time.Minute))},
	}
	store := &fakeCandleStore{}
	in := NewIngestor(api, store, map[string]string{"frxEURUSD": "eurousd_candles"}, 3, time.Millisecond)

	if err := in.fetchMinute(context.Background(), "frxEURUSD", "eurousd_candles", aligned); err != nil {
		t.Fatal(err)
	}
	if api.calls != 3 {
		t.Errorf("calls = %d, want 3", api.calls)
	}
	if got := store.rows["eurousd_candles"]; len(got) != 1 {
		t.Fatalf("rows = %d, want 1", len(got))
	}
}

func TestFetchMinuteGivesUpAfterRetries(t *testing.T) {
	api := &fakeAPI{failN: 10, failErr: errors.New("timeout")}
	in := NewIngestor(api, &fakeCandleStore{}, nil, 3, time.Millisecond)

	err := in.fetchMinute(context.Background(), "frxEURUSD", "eurousd_candles", time.Now().UTC())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if api.calls != 3 {
		t.Errorf("calls = %d, want 3", api.calls)
	}
}

func TestFetchMinuteSkipsMalformedCandles(t *testing.T) {
	aligned := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)
	good := minuteCandle(aligned.Add(-time.Minute))
	inverted := good
	inverted.Low = decimal.RequireFromString("1.2000") // low above high
	unaligned := good
	unaligned.Timestamp = good.Timestamp.Add(17 * time.Second)

	api := &fakeAPI{candles: []candles.Candle{inverted, unaligned, good}}
	store := &fakeCandleStore{}
	in := NewIngestor(api, store, map[string]string{"frxEURUSD": "eurousd_candles"}, 3, time.Millisecond)

	if err := in.fetchMinute(context.Background(), "frxEURUSD", "eurousd_candles", aligned); err != nil {
		t.Fatal(err)
	}
	got := store.rows["eurousd_candles"]
	if len(got) != 1 {
		t.Fatalf("rows = %d, want only the well-formed bar", len(got))
	}
	if !got[0].Timestamp.Equal(good.Timestamp) {
		t.Errorf("persisted ts = %s, want %s", got[0].Timestamp, good.Timestamp)
	}
}

func TestTickHaltsSymbolOnAuthFailure(t *testing.T) {
	api := &fakeAPI{failN: 100, failErr: &broker.AuthError{Code: "InvalidToken", Message: "bad token"}}
	in := NewIngestor(api, &fakeCandleStore{}, map[string]string{"frxEURUSD": "eurousd_candles"}, 3, time.Millisecond)

	aligned := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)
	in.tick(context.Background(), aligned)
	if !in.halted["frxEURUSD"] {
		t.Fatal("auth failure should halt the symbol")
	}
	// A halted symbol is skipped entirely on later ticks.
	before := api.calls
	in.tick(context.Background(), aligned.Add(time.Minute))
	if api.calls != before {
		t.Errorf("halted symbol still fetched: calls %d -> %d", before, api.calls)
	}
	// Auth errors are permanent, no retry loop.
	if before != 1 {
		t.Errorf("auth failure retried: calls = %d, want 1", before)
	}
}

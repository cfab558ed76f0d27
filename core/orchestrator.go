package core

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fxguy0/derivbot/candles"
	"github.com/fxguy0/derivbot/storage"
	"github.com/fxguy0/derivbot/strategy"
)

// SeriesStore is the read side the orchestrator consumes.
type SeriesStore interface {
	ReadCandles(table string, since time.Time) ([]storage.CandleRow, error)
	PersistSignals(records []storage.SignalRecord) error
}

// SignalSink receives each iteration's signals.
type SignalSink interface {
	Process(ctx context.Context, signals []strategy.Signal)
}

// Orchestrator drives the analysis cadence: every interval it re-reads each
// symbol's minute candles, aggregates, runs the strategies, persists the
// signals, and hands them to the dispatcher. Symbols are independent; one
// symbol failing never aborts the others.
type Orchestrator struct {
	store      SeriesStore
	sink       SignalSink
	strategies []strategy.Strategy
	symbols    map[string]string
	lookback   time.Duration
	interval   time.Duration
}

// NewOrchestrator wires the loop. interval matches the dominant timeframe.
func NewOrchestrator(store SeriesStore, sink SignalSink, strategies []strategy.Strategy,
	symbols map[string]string, lookback, interval time.Duration) *Orchestrator {
	return &Orchestrator{
		store:      store,
		sink:       sink,
		strategies: strategies,
		symbols:    symbols,
		lookback:   lookback,
		interval:   interval,
	}
}

// Run iterates until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	log.Info().Dur("interval", o.interval).Int("symbols", len(o.symbols)).
		Msg("orchestrator started")
	for {
		o.iterate(ctx)
		if !sleepCtx(ctx, o.interval) {
			return
		}
	}
}

// iterate analyzes every symbol once.
func (o *Orchestrator) iterate(ctx context.Context) {
	since := time.Now().UTC().Add(-o.lookback)
	for symbol, table := range o.symbols {
		if ctx.Err() != nil {
			return
		}
		if err := o.analyzeSymbol(ctx, symbol, table, since); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("symbol iteration failed")
		}
	}
}

func (o *Orchestrator) analyzeSymbol(ctx context.Context, symbol, table string, since time.Time) error {
	rows, err := o.store.ReadCandles(table, since)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		log.Debug().Str("symbol", symbol).Msg("no candles yet")
		return nil
	}

	minutes := make([]candles.Candle, 0, len(rows))
	for _, r := range rows {
		minutes = append(minutes, candles.Candle{
			Timestamp: r.Timestamp,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
		})
	}

	h4 := candles.Aggregate(minutes, candles.Timeframe4H)
	m30 := candles.Aggregate(minutes, candles.Timeframe30M)
	m15 := candles.Aggregate(minutes, candles.Timeframe15M)

	signals := strategy.All(o.strategies, h4, m30, m15, symbol)
	if len(signals) == 0 {
		return nil
	}
	log.Info().Str("symbol", symbol).Int("signals", len(signals)).Msg("📈 signals emitted")

	records := make([]storage.SignalRecord, 0, len(signals))
	for _, sig := range signals {
		records = append(records, storage.SignalRecord{
			Pair:     sig.Symbol,
			Signal:   sig.Kind,
			Entry:    sig.Entry,
			SL:       sig.StopLoss,
			TP:       sig.TakeProfit,
			Strategy: sig.Strategy,
		})
	}
	if err := o.store.PersistSignals(records); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("signal persistence failed")
	}

	o.sink.Process(ctx, signals)
	return nil
}

package feeds

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fxguy0/derivbot/broker"
	"github.com/fxguy0/derivbot/candles"
	"github.com/fxguy0/derivbot/storage"
)

// CandleStore is the slice of the store the ingestor writes through.
type CandleStore interface {
	UpsertCandle(table string, c storage.CandleRow) error
}

// Ingestor keeps every configured symbol's minute-candle table current. One
// supervisor wakes on each minute boundary and fans the fetches out so all
// symbols commit the same ts before the next boundary. All symbols share one
// broker session; market data needs no per-user token.
type Ingestor struct {
	api     broker.API
	store   CandleStore
	symbols map[string]string // symbol -> candle table
	retries int
	wait    time.Duration

	mu     sync.Mutex
	halted map[string]bool // symbols stopped by a permanent auth failure
}

// NewIngestor wires an ingestor over a shared broker session.
func NewIngestor(api broker.API, store CandleStore, symbols map[string]string, retries int, retryWait time.Duration) *Ingestor {
	return &Ingestor{
		api:     api,
		store:   store,
		symbols: symbols,
		retries: retries,
		wait:    retryWait,
		halted:  make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled, ticking on minute boundaries.
func (in *Ingestor) Run(ctx context.Context) {
	log.Info().Int("symbols", len(in.symbols)).Msg("candle ingestor started")
	for {
		aligned := nextBoundary(time.Now().UTC())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(aligned)):
		}
		in.tick(ctx, aligned)
	}
}

// tick fetches the just-closed minute for every live symbol concurrently and
// waits for all of them before returning.
func (in *Ingestor) tick(ctx context.Context, aligned time.Time) {
	var wg sync.WaitGroup
	for symbol, table := range in.symbols {
		in.mu.Lock()
		stopped := in.halted[symbol]
		in.mu.Unlock()
		if stopped {
			continue
		}

		wg.Add(1)
		go func(symbol, table string) {
			defer wg.Done()
			if err := in.fetchMinute(ctx, symbol, table, aligned); err != nil {
				if broker.IsAuthError(err) {
					in.mu.Lock()
					in.halted[symbol] = true
					in.mu.Unlock()
					log.Error().Err(err).Str("symbol", symbol).
						Msg("ingest halted: authorization failure")
					return
				}
				log.Warn().Err(err).Str("symbol", symbol).
					Time("minute", aligned).Msg("minute ingest failed, will retry next tick")
			}
		}(symbol, table)
	}
	wg.Wait()
}

// fetchMinute pulls the candle covering [aligned-60s, aligned) and upserts
// it. Transient failures are retried with a fixed delay; a minute nobody
// returns is simply absent until the next catch-up.
func (in *Ingestor) fetchMinute(ctx context.Context, symbol, table string, aligned time.Time) error {
	start, end := aligned.Add(-time.Minute), aligned

	var lastErr error
	for attempt := 0; attempt < in.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(in.wait):
			}
		}

		got, err := in.api.TicksHistory(ctx, symbol, start, end, 60, 1)
		if err != nil {
			if !broker.IsTransient(err) {
				return err
			}
			lastErr = err
			continue
		}
		for _, c := range got {
			if err := in.upsert(table, c); err != nil {
				return err
			}
		}
		return nil
	}
	return lastErr
}

// Backfill loads up to lookback hours of minute history per symbol in chunks
// so strategies have series to work with on a cold start.
func (in *Ingestor) Backfill(ctx context.Context, lookback time.Duration) {
	const chunk = 5000 // broker-side response cap

	end := candles.FloorToMinute(time.Now().UTC())
	for symbol, table := range in.symbols {
		start := end.Add(-lookback)
		cursor := start
		total := 0
		for cursor.Before(end) {
			chunkEnd := cursor.Add(chunk * time.Minute)
			if chunkEnd.After(end) {
				chunkEnd = end
			}
			got, err := in.api.TicksHistory(ctx, symbol, cursor, chunkEnd, 60, chunk)
			if err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("backfill chunk failed")
				break
			}
			for _, c := range got {
				if err := in.upsert(table, c); err != nil {
					log.Warn().Err(err).Str("symbol", symbol).Msg("backfill upsert failed")
				}
			}
			total += len(got)
			cursor = chunkEnd
		}
		log.Info().Str("symbol", symbol).Int("candles", total).Msg("backfill done")
	}
}

// upsert persists one broker candle. Malformed bars are a logical error on
// the broker side: skip them with a warning rather than poisoning the table.
func (in *Ingestor) upsert(table string, c candles.Candle) error {
	if !c.Valid() || !c.Timestamp.Equal(candles.FloorToMinute(c.Timestamp)) {
		log.Warn().Str("table", table).Time("ts", c.Timestamp).
			Str("open", c.Open.String()).Str("high", c.High.String()).
			Str("low", c.Low.String()).Str("close", c.Close.String()).
			Msg("malformed candle skipped")
		return nil
	}
	return in.store.UpsertCandle(table, storage.CandleRow{
		Timestamp: c.Timestamp,
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
	})
}

// nextBoundary returns the first whole minute strictly after t.
func nextBoundary(t time.Time) time.Time {
	return candles.FloorToMinute(t).Add(time.Minute)
}

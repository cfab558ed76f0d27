package candles

import "time"

// Timeframes used across the engine, in minutes.
const (
	Timeframe15M = 15
	Timeframe30M = 30
	Timeframe4H  = 240
)

// Aggregate rolls one-minute candles up into buckets of the given timeframe
// (in minutes), aligned to clock boundaries. Open is the first minute's open
// in the bucket, close the last minute's close, high/low the extrema.
//
// Input timestamps must be non-decreasing; an out-of-order candle is skipped.
// The trailing bucket is emitted even when partial — callers treat the last
// element as in-progress.
func Aggregate(minutes []Candle, timeframeMinutes int) []Candle {
	if len(minutes) == 0 || timeframeMinutes <= 0 {
		return nil
	}

	period := time.Duration(timeframeMinutes) * time.Minute
	var out []Candle
	var current Candle
	var lastTS time.Time
	open := false

	for _, c := range minutes {
		ts := c.Timestamp.UTC()
		if open && ts.Before(lastTS) {
			continue
		}
		lastTS = ts

		bucket := ts.Truncate(period)
		if !open || !bucket.Equal(current.Timestamp) {
			if open {
				out = append(out, current)
			}
			current = Candle{
				Timestamp: bucket,
				Open:      c.Open,
				High:      c.High,
				Low:       c.Low,
				Close:     c.Close,
			}
			open = true
			continue
		}

		if c.High.GreaterThan(current.High) {
			current.High = c.High
		}
		if c.Low.LessThan(current.Low) {
			current.Low = c.Low
		}
		current.Close = c.Close
	}

	if open {
		out = append(out, current)
	}
	return out
}

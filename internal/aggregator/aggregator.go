// Package aggregator rolls up lower-timeframe candles into a higher
// timeframe and snaps arbitrary timestamps to timeframe boundaries. A
// pure batch rollup over an already-loaded slice, not a streaming
// forming-candle model — this server aggregates historical data on
// demand, it does not ingest live ticks.
package aggregator

import "candlereplay/internal/model"

// Align returns the start of the timeframe bucket containing t:
// align(t, tf) = t - (t mod (tf.minutes * 60)).
func Align(t int64, tf model.Timeframe) int64 {
	step := tf.Seconds()
	if step <= 0 {
		return t
	}
	return t - (t % step)
}

// Rollup groups consecutive base candles sharing the same aligned bucket
// into one target-timeframe candle each. base must already be sorted
// ascending by Time. Used only when a target timeframe's own dataset is
// unavailable but a finer one is — the common path is per-timeframe CSVs
// loaded directly by candlestore.
func Rollup(base []model.Candle, target model.Timeframe) []model.Candle {
	if len(base) == 0 {
		return nil
	}

	out := make([]model.Candle, 0, len(base))
	var current model.Candle
	var bucket int64
	open := false

	flush := func() {
		if open {
			out = append(out, current)
			open = false
		}
	}

	for _, c := range base {
		b := Align(c.Time, target)
		if !open {
			bucket = b
			current = model.Candle{
				Time:   bucket,
				Open:   c.Open,
				High:   c.High,
				Low:    c.Low,
				Close:  c.Close,
				Volume: c.Volume,
			}
			open = true
			continue
		}
		if b != bucket {
			flush()
			bucket = b
			current = model.Candle{
				Time:   bucket,
				Open:   c.Open,
				High:   c.High,
				Low:    c.Low,
				Close:  c.Close,
				Volume: c.Volume,
			}
			open = true
			continue
		}
		if c.High > current.High {
			current.High = c.High
		}
		if c.Low < current.Low {
			current.Low = c.Low
		}
		current.Close = c.Close
		current.Volume += c.Volume
	}
	flush()

	return out
}

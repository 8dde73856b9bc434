// Package model holds the domain types shared across the replay server:
// candles, timeframes, instruments and skip events. Types here are plain
// data — validation and business rules live in their owning packages
// (validator, aggregator, skipstore).
package model

import "encoding/json"

// Candle is a single OHLCV bar. Time is the candle's open timestamp,
// epoch seconds UTC, aligned to its timeframe's minute boundary.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

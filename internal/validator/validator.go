// Package validator enforces OHLC invariants on candles before they reach
// the client, and synthesizes a minimal fallback candle when sanitization
// would otherwise return an empty slice: reject-and-count, never panic.
package validator

import (
	"math"

	"candlereplay/internal/metrics"
	"candlereplay/internal/model"
)

// Validator enforces price-bound and OHLC-shape invariants. Bounds are
// fields, not constants, so a differently configured instrument could
// override them without a code change — though only one instrument is
// ever active per process.
type Validator struct {
	MinPrice float64
	MaxPrice float64

	metrics *metrics.Metrics
}

// SetMetrics attaches a Prometheus metrics sink. Optional.
func (v *Validator) SetMetrics(m *metrics.Metrics) {
	v.metrics = m
}

// New returns a Validator with the documented default bounds for a
// single instrument: (1e3, 1e6).
func New() *Validator {
	return &Validator{MinPrice: 1e3, MaxPrice: 1e6}
}

// Valid reports whether a single candle satisfies every OHLC invariant.
func (v *Validator) Valid(c model.Candle) bool {
	if !finite(c.Open) || !finite(c.High) || !finite(c.Low) || !finite(c.Close) {
		return false
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return false
	}
	if c.Open < v.MinPrice || c.High < v.MinPrice || c.Low < v.MinPrice || c.Close < v.MinPrice {
		return false
	}
	if c.High > v.MaxPrice || c.Low < 0 {
		return false
	}
	if c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close || c.Low > c.High {
		return false
	}
	return true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// fixVolume substitutes 0 for a null/NaN/negative volume — the only
// silent repair allowed; everything else about a bad candle is a
// rejection, not a fix.
func fixVolume(c model.Candle) model.Candle {
	if !finite(c.Volume) || c.Volume < 0 {
		c.Volume = 0
	}
	return c
}

// Sanitize filters out candles as rejected and fixes volume on the rest.
func (v *Validator) Sanitize(candles []model.Candle) []model.Candle {
	out := make([]model.Candle, 0, len(candles))
	for _, c := range candles {
		c = fixVolume(c)
		if !v.Valid(c) {
			if v.metrics != nil {
				v.metrics.ValidatorRejected.Inc()
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

// SanitizeOrFallback sanitizes candles and, if the result would be empty,
// returns a single synthetic candle instead — the chart client must never
// receive an empty array. nowUnix and lastKnownPrice feed the synthetic
// candle's time and flat OHLC.
func (v *Validator) SanitizeOrFallback(candles []model.Candle, nowUnix int64, lastKnownPrice float64) []model.Candle {
	out := v.Sanitize(candles)
	if len(out) > 0 {
		return out
	}
	if v.metrics != nil {
		v.metrics.ValidatorFallbacks.Inc()
	}
	if lastKnownPrice <= 0 {
		lastKnownPrice = v.MinPrice
	}
	return []model.Candle{
		{
			Time:   nowUnix,
			Open:   lastKnownPrice,
			High:   lastKnownPrice,
			Low:    lastKnownPrice,
			Close:  lastKnownPrice,
			Volume: 0,
		},
	}
}

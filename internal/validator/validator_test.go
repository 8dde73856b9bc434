package validator

import (
	"math"
	"testing"

	"candlereplay/internal/model"
)

func TestValid_RejectsNonFinite(t *testing.T) {
	v := New()
	cases := []model.Candle{
		{Time: 1, Open: math.NaN(), High: 2, Low: 1, Close: 1.5},
		{Time: 1, Open: 1, High: math.Inf(1), Low: 1, Close: 1.5},
		{Time: 1, Open: 1, High: 2, Low: math.Inf(-1), Close: 1.5},
	}
	for i, c := range cases {
		if v.Valid(c) {
			t.Errorf("case %d: expected invalid, got valid: %+v", i, c)
		}
	}
}

func TestValid_RejectsNonPositivePrices(t *testing.T) {
	v := New()
	if v.Valid(model.Candle{Open: 0, High: 1, Low: 1, Close: 1}) {
		t.Error("expected zero open to be rejected")
	}
	if v.Valid(model.Candle{Open: -5, High: 1, Low: -5, Close: -1}) {
		t.Error("expected negative prices to be rejected")
	}
}

func TestValid_RejectsBelowMinPrice(t *testing.T) {
	v := New() // default bounds: MinPrice=1e3, MaxPrice=1e6
	c := model.Candle{Open: 1, High: 1, Low: 1, Close: 1}
	if v.Valid(c) {
		t.Error("expected a well-shaped candle below MinPrice to be rejected")
	}
}

func TestValid_RejectsAboveMaxPrice(t *testing.T) {
	v := New()
	v.MinPrice = 0
	v.MaxPrice = 1000
	c := model.Candle{Open: 500, High: 2000, Low: 400, Close: 600}
	if v.Valid(c) {
		t.Error("expected above-bound high to be rejected")
	}
}

func TestValid_RejectsOHLCInvariantViolations(t *testing.T) {
	v := New()
	v.MinPrice = 0
	cases := []model.Candle{
		{Open: 100, High: 110, Low: 105, Close: 108}, // low > open
		{Open: 100, High: 110, Low: 95, Close: 90},   // close < low
	}
	// low > open
	if v.Valid(cases[0]) {
		t.Error("expected low > open to be rejected")
	}
	// high < close
	bad := model.Candle{Open: 100, High: 95, Low: 90, Close: 102}
	if v.Valid(bad) {
		t.Error("expected high < close to be rejected")
	}
	// low > high
	bad2 := model.Candle{Open: 100, High: 90, Low: 95, Close: 92}
	if v.Valid(bad2) {
		t.Error("expected low > high to be rejected")
	}
}

func TestValid_AcceptsWellFormedCandle(t *testing.T) {
	v := New()
	v.MinPrice = 0
	c := model.Candle{Time: 1700000000, Open: 100, High: 110, Low: 95, Close: 105, Volume: 10}
	if !v.Valid(c) {
		t.Error("expected well-formed candle to be valid")
	}
}

func TestSanitize_FixesNullVolume(t *testing.T) {
	v := New()
	v.MinPrice = 0
	in := []model.Candle{{Time: 1, Open: 100, High: 110, Low: 95, Close: 105, Volume: math.NaN()}}
	out := v.Sanitize(in)
	if len(out) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(out))
	}
	if out[0].Volume != 0 {
		t.Errorf("expected volume fixed to 0, got %v", out[0].Volume)
	}
}

func TestSanitize_DropsInvalidKeepsValid(t *testing.T) {
	v := New()
	v.MinPrice = 0
	in := []model.Candle{
		{Time: 1, Open: 100, High: 110, Low: 95, Close: 105, Volume: 1},
		{Time: 2, Open: 100, High: 90, Low: 95, Close: 92, Volume: 1}, // low > high
	}
	out := v.Sanitize(in)
	if len(out) != 1 {
		t.Fatalf("expected 1 valid candle, got %d", len(out))
	}
	if out[0].Time != 1 {
		t.Errorf("expected surviving candle to have time=1, got %d", out[0].Time)
	}
}

func TestSanitizeOrFallback_EmptyProducesSynthetic(t *testing.T) {
	v := New()
	v.MinPrice = 0
	out := v.SanitizeOrFallback(nil, 1700000000, 150.5)
	if len(out) != 1 {
		t.Fatalf("expected exactly 1 synthetic candle, got %d", len(out))
	}
	c := out[0]
	if c.Time != 1700000000 {
		t.Errorf("expected synthetic time=now, got %d", c.Time)
	}
	if c.Open != 150.5 || c.High != 150.5 || c.Low != 150.5 || c.Close != 150.5 {
		t.Errorf("expected flat OHLC at last known price, got %+v", c)
	}
	if c.Volume != 0 {
		t.Errorf("expected synthetic volume=0, got %v", c.Volume)
	}
}

func TestSanitizeOrFallback_NonEmptyPassesThrough(t *testing.T) {
	v := New()
	v.MinPrice = 0
	in := []model.Candle{{Time: 1, Open: 100, High: 110, Low: 95, Close: 105, Volume: 1}}
	out := v.SanitizeOrFallback(in, 9999, 1)
	if len(out) != 1 || out[0].Time != 1 {
		t.Fatalf("expected passthrough of valid input, got %+v", out)
	}
}

package aggregator

import (
	"testing"

	"candlereplay/internal/model"
)

func TestAlign(t *testing.T) {
	tf, _ := model.ParseTimeframe("5m")
	cases := []struct {
		in, want int64
	}{
		{0, 0},
		{299, 0},
		{300, 300},
		{301, 300},
		{1700000000, 1700000000 - (1700000000 % 300)},
	}
	for _, c := range cases {
		if got := Align(c.in, tf); got != c.want {
			t.Errorf("Align(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestAlign_Idempotent(t *testing.T) {
	tf, _ := model.ParseTimeframe("15m")
	for _, ts := range []int64{0, 1, 899, 900, 901, 123456789} {
		a := Align(ts, tf)
		if Align(a, tf) != a {
			t.Errorf("Align not idempotent for %d: Align(Align(%d))=%d != %d", ts, ts, Align(a, tf), a)
		}
	}
}

func TestRollup_1mTo5m(t *testing.T) {
	tf5, _ := model.ParseTimeframe("5m")

	base := make([]model.Candle, 0, 5)
	for i := int64(0); i < 5; i++ {
		base = append(base, model.Candle{
			Time:   i * 60,
			Open:   100 + float64(i),
			High:   110 + float64(i),
			Low:    90 - float64(i),
			Close:  105 + float64(i),
			Volume: 10,
		})
	}

	out := Rollup(base, tf5)
	if len(out) != 1 {
		t.Fatalf("expected 1 rolled-up candle, got %d", len(out))
	}
	c := out[0]
	if c.Time != 0 {
		t.Errorf("expected bucket start 0, got %d", c.Time)
	}
	if c.Open != 100 {
		t.Errorf("expected open=100 (first), got %v", c.Open)
	}
	if c.Close != 109 {
		t.Errorf("expected close=109 (last), got %v", c.Close)
	}
	if c.High != 114 {
		t.Errorf("expected high=114 (max), got %v", c.High)
	}
	if c.Low != 86 {
		t.Errorf("expected low=86 (min), got %v", c.Low)
	}
	if c.Volume != 50 {
		t.Errorf("expected volume=50 (sum), got %v", c.Volume)
	}
}

func TestRollup_MultipleBuckets(t *testing.T) {
	tf5, _ := model.ParseTimeframe("5m")
	base := make([]model.Candle, 0, 10)
	for i := int64(0); i < 10; i++ {
		base = append(base, model.Candle{Time: i * 60, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
	}
	out := Rollup(base, tf5)
	if len(out) != 2 {
		t.Fatalf("expected 2 rolled-up candles, got %d", len(out))
	}
	if out[0].Time != 0 || out[1].Time != 300 {
		t.Errorf("unexpected bucket starts: %d, %d", out[0].Time, out[1].Time)
	}
}

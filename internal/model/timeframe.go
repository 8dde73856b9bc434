package model

// Timeframe is one of the fixed candle intervals the server understands.
// The zero value is not a valid Timeframe; always obtain one via
// ParseTimeframe or the Timeframes slice.
type Timeframe struct {
	Name    string
	Minutes int
}

// Seconds returns the timeframe length in seconds.
func (tf Timeframe) Seconds() int64 { return int64(tf.Minutes) * 60 }

// Timeframes is the fixed, ordered set of supported timeframes.
var Timeframes = []Timeframe{
	{Name: "1m", Minutes: 1},
	{Name: "2m", Minutes: 2},
	{Name: "3m", Minutes: 3},
	{Name: "5m", Minutes: 5},
	{Name: "15m", Minutes: 15},
	{Name: "30m", Minutes: 30},
	{Name: "1h", Minutes: 60},
	{Name: "4h", Minutes: 240},
}

// ParseTimeframe resolves a symbolic name ("5m", "1h", ...) to a Timeframe.
// The second return value is false for any name outside the fixed set.
func ParseTimeframe(name string) (Timeframe, bool) {
	for _, tf := range Timeframes {
		if tf.Name == name {
			return tf, true
		}
	}
	return Timeframe{}, false
}

// Base is the 1-minute timeframe all others are derived from.
func Base() Timeframe {
	tf, _ := ParseTimeframe("1m")
	return tf
}

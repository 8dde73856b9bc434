package model

// SkipEvent is a single user-generated "next candle" produced by a Skip
// operation. Events are append-only and never mutated after creation;
// origin_timeframe governs which other timeframes may project the event
// (see skipstore.Project).
type SkipEvent struct {
	ID              int64  `json:"id"`
	Time            int64  `json:"time"`
	OriginTimeframe string `json:"origin_timeframe"`
	Candle          Candle `json:"candle"`
	CreatedAt       int64  `json:"created_at"`
}

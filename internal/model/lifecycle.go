package model

// SeriesState is a chart session's contamination state, tracking whether
// the client's in-memory candle series still matches what the server
// would compute from scratch.
type SeriesState string

const (
	StateClean         SeriesState = "CLEAN"
	StateDataLoaded    SeriesState = "DATA_LOADED"
	StateSkipModified  SeriesState = "SKIP_MODIFIED"
	StateCorrupted     SeriesState = "CORRUPTED"
	StateTransitioning SeriesState = "TRANSITIONING"
)

// ChartLifecycleState tracks a session's chart contamination level.
// Version increments on each forced client-side recreation.
type ChartLifecycleState struct {
	SeriesState       SeriesState
	SkipOpsSinceClean int
	Version           int
}

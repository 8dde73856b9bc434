// Package candlestore loads per-timeframe CSV datasets into memory and
// exposes sub-millisecond date→index, index→candle, and range queries:
// open-once, typed scan, immutable after load, backed by an in-memory
// binary-searchable slice instead of a database.
package candlestore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"candlereplay/internal/aggregator"
	"candlereplay/internal/model"
)

// Series is one timeframe's immutable, strictly time-ordered candle set.
type Series struct {
	Timeframe model.Timeframe
	Candles   []model.Candle
}

// Len returns the number of candles in the series.
func (s *Series) Len() int { return len(s.Candles) }

// FindIndex returns the index of the candle whose time is the exact match
// for target, or else the greatest index whose time is <= target. If
// target is before the series' first candle, it returns 0 — never an
// arbitrary fixed offset.
func (s *Series) FindIndex(target int64) int {
	if len(s.Candles) == 0 {
		return 0
	}
	// sort.Search finds the first index where Candles[i].Time > target.
	i := sort.Search(len(s.Candles), func(i int) bool {
		return s.Candles[i].Time > target
	})
	if i == 0 {
		return 0
	}
	return i - 1
}

// Slice returns up to count candles ending at endExclusive-1 (inclusive).
func (s *Series) Slice(endExclusive, count int) []model.Candle {
	if endExclusive > len(s.Candles) {
		endExclusive = len(s.Candles)
	}
	if endExclusive < 0 {
		endExclusive = 0
	}
	start := endExclusive - count
	if start < 0 {
		start = 0
	}
	out := make([]model.Candle, endExclusive-start)
	copy(out, s.Candles[start:endExclusive])
	return out
}

// Range returns all candles with startTime <= time <= endTime, inclusive on
// both ends.
func (s *Series) Range(startTime, endTime int64) []model.Candle {
	if len(s.Candles) == 0 {
		return nil
	}
	lo := sort.Search(len(s.Candles), func(i int) bool {
		return s.Candles[i].Time >= startTime
	})
	hi := sort.Search(len(s.Candles), func(i int) bool {
		return s.Candles[i].Time > endTime
	})
	if lo >= hi {
		return nil
	}
	out := make([]model.Candle, hi-lo)
	copy(out, s.Candles[lo:hi])
	return out
}

// First returns the series' earliest candle and true, or the zero value and
// false if the series is empty.
func (s *Series) First() (model.Candle, bool) {
	if len(s.Candles) == 0 {
		return model.Candle{}, false
	}
	return s.Candles[0], true
}

// Last returns the series' latest candle and true, or the zero value and
// false if the series is empty.
func (s *Series) Last() (model.Candle, bool) {
	if len(s.Candles) == 0 {
		return model.Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// Store owns one Series per configured timeframe. Immutable for the
// process lifetime after Load completes — callers never need to lock
// around reads.
type Store struct {
	series map[string]*Series
}

// New creates an empty Store.
func New() *Store {
	return &Store{series: make(map[string]*Series)}
}

// LoadAll loads one CSV per timeframe from dataPath/<timeframe>.csv. A
// missing or empty file marks that timeframe unavailable but does not
// stop the other timeframes from loading — a single bad dataset must
// never take the whole server down. After every direct load attempt,
// still-unavailable timeframes are filled in by rolling up the finest
// available lower timeframe: the aggregator is only used as a fallback
// when a target timeframe's own dataset is unavailable.
func (st *Store) LoadAll(dataPath string, timeframes []model.Timeframe, logger *slog.Logger) {
	for _, tf := range timeframes {
		path := filepath.Join(dataPath, tf.Name+".csv")
		if err := st.Load(tf, path, logger); err != nil {
			if logger != nil {
				logger.Warn("timeframe unavailable", "timeframe", tf.Name, "path", path, "error", err)
			}
		}
	}
	st.fillGapsByRollup(timeframes, logger)
}

// fillGapsByRollup installs an aggregator-rolled-up series for any
// timeframe still missing after direct CSV loads, sourced from the finest
// available timeframe that divides evenly into it.
func (st *Store) fillGapsByRollup(timeframes []model.Timeframe, logger *slog.Logger) {
	for _, tf := range timeframes {
		if st.Available(tf.Name) {
			continue
		}
		base, ok := st.finestAvailableBelow(tf, timeframes)
		if !ok {
			continue
		}
		rolled := aggregator.Rollup(base.Candles, tf)
		if len(rolled) == 0 {
			continue
		}
		st.Put(&Series{Timeframe: tf, Candles: rolled})
		if logger != nil {
			logger.Info("filled timeframe via rollup", "timeframe", tf.Name, "source", base.Timeframe.Name, "candles", len(rolled))
		}
	}
}

// finestAvailableBelow returns the loaded series with the smallest
// duration that still evenly divides tf's duration, so bucket boundaries
// line up exactly.
func (st *Store) finestAvailableBelow(tf model.Timeframe, all []model.Timeframe) (*Series, bool) {
	var best *Series
	for _, candidate := range all {
		if candidate.Minutes >= tf.Minutes {
			continue
		}
		if tf.Minutes%candidate.Minutes != 0 {
			continue
		}
		s, ok := st.Series(candidate.Name)
		if !ok {
			continue
		}
		if best == nil || s.Timeframe.Minutes < best.Timeframe.Minutes {
			best = s
		}
	}
	return best, best != nil
}

// Load reads, sorts, and dedups a single timeframe's CSV into the store.
func (st *Store) Load(tf model.Timeframe, path string, logger *slog.Logger) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("candlestore: %s: %w", tf.Name, err)
	}

	candles, skipped, err := loadCSV(path)
	if err != nil {
		return fmt.Errorf("candlestore: load %s: %w", tf.Name, err)
	}
	logSkipped(logger, tf.Name, skipped)

	if len(candles) == 0 {
		return fmt.Errorf("candlestore: %s: empty dataset", tf.Name)
	}

	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
	candles = dedupLastWins(candles)

	st.series[tf.Name] = &Series{Timeframe: tf, Candles: candles}
	if logger != nil {
		logger.Info("loaded timeframe", "timeframe", tf.Name, "candles", len(candles), "skipped_rows", skipped)
	}
	return nil
}

// dedupLastWins removes duplicate timestamps from a time-sorted slice,
// keeping the last occurrence of each timestamp (last write wins).
func dedupLastWins(sorted []model.Candle) []model.Candle {
	out := make([]model.Candle, 0, len(sorted))
	for i, c := range sorted {
		if i+1 < len(sorted) && sorted[i+1].Time == c.Time {
			continue // a later duplicate will win
		}
		out = append(out, c)
	}
	return out
}

// Put registers an already-built series directly, bypassing CSV loading.
// Used to install an Aggregator-rolled-up series when a target timeframe's
// own CSV is unavailable but a finer one is (spec's non-common fallback
// path), and by tests that need a store without writing a CSV fixture.
func (st *Store) Put(s *Series) {
	st.series[s.Timeframe.Name] = s
}

// Available reports whether tf's dataset loaded successfully.
func (st *Store) Available(tf string) bool {
	_, ok := st.series[tf]
	return ok
}

// Series returns the Series for tf, or nil, false if unavailable.
func (st *Store) Series(tf string) (*Series, bool) {
	s, ok := st.series[tf]
	return s, ok
}

// AvailableTimeframes returns the names of every timeframe that loaded.
func (st *Store) AvailableTimeframes() []string {
	out := make([]string, 0, len(st.series))
	for name := range st.series {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Package skipstore holds user-generated skip candles isolated from
// historical data while letting them surface in any compatible timeframe:
// a mutex-guarded, unbounded append-only log with snapshot-read
// semantics, since skip events must never be overwritten except by an
// explicit clear().
package skipstore

import (
	"sort"
	"sync"

	"candlereplay/internal/aggregator"
	"candlereplay/internal/model"
)

// Store is an append-only, thread-safe log of SkipEvents.
type Store struct {
	mu     sync.Mutex
	events []model.SkipEvent
	nextID int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{nextID: 1}
}

// Append records a new skip event originating in originTF, assigning it a
// monotonically increasing id, and returns the stored event.
func (s *Store) Append(originTF string, candle model.Candle, createdAt int64) model.SkipEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := model.SkipEvent{
		ID:              s.nextID,
		Time:            candle.Time,
		OriginTimeframe: originTF,
		Candle:          candle,
		CreatedAt:       createdAt,
	}
	s.nextID++
	s.events = append(s.events, ev)
	return ev
}

// snapshot returns a copy of the event log, safe to range over without
// holding the store's lock.
func (s *Store) snapshot() []model.SkipEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SkipEvent, len(s.events))
	copy(out, s.events)
	return out
}

// compatible reports whether a skip event created in originTF is visible
// when projecting onto target: the origin must be the same timeframe or a
// coarser one, per the cross-timeframe projection rule — a 5-minute skip
// must never be faked as four separate 1-minute candles.
func compatible(origin, target model.Timeframe) bool {
	return origin.Name == target.Name || origin.Minutes >= target.Minutes
}

// Project returns the skip candles visible at target, each re-aligned to
// target's boundary and deduplicated by aligned timestamp — the most
// recently appended event wins on conflict. Returned in ascending time
// order.
func (s *Store) Project(target model.Timeframe) []model.Candle {
	events := s.snapshot()

	byBucket := make(map[int64]model.Candle)
	for _, ev := range events {
		origin, ok := model.ParseTimeframe(ev.OriginTimeframe)
		if !ok || !compatible(origin, target) {
			continue
		}
		bucket := aggregator.Align(ev.Candle.Time, target)
		c := ev.Candle
		c.Time = bucket
		byBucket[bucket] = c // later events in append order overwrite earlier ones
	}

	out := make([]model.Candle, 0, len(byBucket))
	for _, c := range byBucket {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// CountForTimeframe returns how many distinct skip candles are visible at
// tf after compatibility filtering and per-bucket dedup (events sharing an
// aligned bucket count once) — the input to contamination_level.
func (s *Store) CountForTimeframe(tf model.Timeframe) int {
	return len(s.Project(tf))
}

// ContaminationLevel reports tf's contamination bucket.
func (s *Store) ContaminationLevel(tf model.Timeframe) model.ContaminationLevel {
	return model.Contamination(s.CountForTimeframe(tf))
}

// Clear empties the log. Used only on process restart, never by
// Go-To-Date — a skip's candle.time still determines visibility after a
// date jump.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// Len returns the total number of events ever appended (not filtered by
// timeframe compatibility).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

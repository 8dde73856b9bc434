// Package lifecycle implements the chart contamination state machine: it
// decides when a connected client must destroy and recreate its chart
// series rather than receive an incremental update. Grounded on the
// teacher's ConfigStore (internal/gateway/config_store.go) version-counter
// idiom — a small piece of state mutated only by one coordinating owner,
// read freely by everyone else.
package lifecycle

import "candlereplay/internal/model"

// Manager owns a single session's ChartLifecycleState. Not safe for
// concurrent use without external synchronization — callers serialize
// access via the same transition mutex that guards TimeCursor.
type Manager struct {
	state model.ChartLifecycleState
}

// New returns a Manager starting CLEAN, matching a freshly connected
// session that has not yet loaded or skipped anything.
func New() *Manager {
	return &Manager{state: model.ChartLifecycleState{SeriesState: model.StateClean}}
}

// State returns a copy of the current lifecycle state.
func (m *Manager) State() model.ChartLifecycleState {
	return m.state
}

// TrackSkip increments the skip counter and moves CLEAN or DATA_LOADED to
// SKIP_MODIFIED. CORRUPTED and TRANSITIONING are left untouched — a skip
// arriving mid-transition or against corrupted state doesn't change the
// state machine's classification of that corruption.
func (m *Manager) TrackSkip() {
	m.state.SkipOpsSinceClean++
	if m.state.SeriesState == model.StateClean || m.state.SeriesState == model.StateDataLoaded {
		m.state.SeriesState = model.StateSkipModified
	}
}

// NeedsRecreation reports whether the next transition must force the
// client to destroy and rebuild its chart series: true if any skips have
// accumulated since the last clean load, or the series is already
// CORRUPTED.
func (m *Manager) NeedsRecreation() bool {
	return m.state.SkipOpsSinceClean > 0 || m.state.SeriesState == model.StateCorrupted
}

// BeginTransition snapshots the current state and moves to TRANSITIONING.
// Returns the snapshot so the coordinator can roll back to it on failure.
func (m *Manager) BeginTransition() model.ChartLifecycleState {
	snapshot := m.state
	m.state.SeriesState = model.StateTransitioning
	return snapshot
}

// RollBack restores a prior snapshot, undoing BeginTransition's move to
// TRANSITIONING. Used when phases 3-5 of a transition fail.
func (m *Manager) RollBack(snapshot model.ChartLifecycleState) {
	m.state = snapshot
}

// Complete finishes a transition. On success, the series becomes
// DATA_LOADED; if recreation was performed, the skip counter resets to
// zero and version bumps. On failure, the series becomes CORRUPTED and the
// skip counter is left as-is so the next transition still sees
// contamination.
func (m *Manager) Complete(success, recreated bool) {
	if !success {
		m.state.SeriesState = model.StateCorrupted
		return
	}
	m.state.SeriesState = model.StateDataLoaded
	if recreated {
		m.state.SkipOpsSinceClean = 0
		m.state.Version++
	}
}

// Contamination reports this session's contamination bucket given a
// timeframe's accumulated skip count, per model.Contamination.
func Contamination(skipCount int) model.ContaminationLevel {
	return model.Contamination(skipCount)
}

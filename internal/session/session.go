// Package session owns the state of a single connected chart client: its
// TimeCursor, lifecycle state, transition mutex, and the auto-play
// goroutine. There is no process-wide client registry: every piece of
// mutable per-client state lives on this struct instead of a shared
// package-level map.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"candlereplay/internal/lifecycle"
	"candlereplay/internal/model"
)

// PlayState tracks auto-play's own small state machine under a mutex.
type PlayState string

const (
	PlayStopped PlayState = "stopped"
	PlayRunning PlayState = "running"
)

// Session is the single object holding per-connection mutable state:
// TimeCursor, ChartLifecycleState (via *lifecycle.Manager), and the
// transition mutex that serializes every state-changing operation against
// this session.
type Session struct {
	// TransitionMu serializes all state-changing operations; exported so
	// TransitionCoordinator can lock it directly without a forwarding
	// method per phase.
	TransitionMu sync.Mutex

	cursor     model.TimeCursor
	lifecycle  *lifecycle.Manager
	timeframe  model.Timeframe
	instrument model.Instrument

	playMu    sync.Mutex
	playState PlayState
	speed     float64
	cancel    context.CancelFunc

	logger *slog.Logger
}

// New creates a Session anchored at anchorDate on the given default
// timeframe, lifecycle state CLEAN — matching a freshly connected client
// that has not yet loaded or skipped anything.
func New(defaultTF model.Timeframe, anchorDate int64, logger *slog.Logger) *Session {
	return NewWithInstrument(defaultTF, anchorDate, model.Instrument{}, logger)
}

// NewWithInstrument is New plus the fixed instrument this session
// replays, surfaced read-only through Instrument() for the debug/status
// endpoints.
func NewWithInstrument(defaultTF model.Timeframe, anchorDate int64, instrument model.Instrument, logger *slog.Logger) *Session {
	return &Session{
		cursor:     model.TimeCursor{Mode: model.CursorAnchor, AnchorDate: anchorDate},
		lifecycle:  lifecycle.New(),
		timeframe:  defaultTF,
		instrument: instrument,
		playState:  PlayStopped,
		speed:      1,
		logger:     logger,
	}
}

// Instrument returns the fixed instrument this session replays.
func (s *Session) Instrument() model.Instrument {
	return s.instrument
}

// Cursor returns a copy of the current TimeCursor. Safe to call without
// holding TransitionMu for read-only display purposes; callers that need
// a consistent read-modify-write must hold TransitionMu.
func (s *Session) Cursor() model.TimeCursor {
	return s.cursor
}

// Lifecycle returns the session's lifecycle manager.
func (s *Session) Lifecycle() *lifecycle.Manager {
	return s.lifecycle
}

// Timeframe returns the session's currently active timeframe.
func (s *Session) Timeframe() model.Timeframe {
	return s.timeframe
}

// SetTimeframe updates the active timeframe. Called by the coordinator
// only, inside an active transaction.
func (s *Session) SetTimeframe(tf model.Timeframe) {
	s.timeframe = tf
}

// GoToDate resets the cursor to ANCHOR at d. Called by the coordinator
// only, inside an active transaction.
func (s *Session) GoToDate(d int64) {
	s.cursor.GoToDate(d)
}

// Skip advances the cursor by one step of the session's active timeframe.
// Called by the coordinator only, inside an active transaction.
func (s *Session) Skip() {
	s.cursor.Skip(s.timeframe.Seconds())
}

// PlayState reports whether auto-play is currently running.
func (s *Session) PlayState() PlayState {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	return s.playState
}

// Speed returns the current auto-play speed multiplier (1-15).
func (s *Session) Speed() float64 {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	return s.speed
}

// SetSpeed sets the auto-play speed multiplier. Valid range is [1, 15];
// out-of-range values are clamped rather than rejected, since speed is a
// debug knob, not user input requiring strict validation.
func (s *Session) SetSpeed(speed float64) {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	if speed < 1 {
		speed = 1
	}
	if speed > 15 {
		speed = 15
	}
	s.speed = speed
}

// StopAutoPlay cancels the running auto-play loop, if any. Idempotent.
func (s *Session) StopAutoPlay() {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.playState = PlayStopped
}

// StartAutoPlay launches the auto-play loop as a goroutine, calling tick
// on each step at an interval derived from speed. tick is expected to be
// the coordinator's Skip method; its error is logged and the loop stops —
// a background loop failure is logged and the loop exits cleanly, never
// panics.
func (s *Session) StartAutoPlay(parent context.Context, tick func(context.Context) error) {
	s.playMu.Lock()
	if s.playState == PlayRunning {
		s.playMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.playState = PlayRunning
	s.playMu.Unlock()

	go s.autoPlayLoop(ctx, tick)
}

// baseStepInterval is the pacing interval at speed=1: one candle per
// second. Higher speeds shrink the interval proportionally.
const baseStepInterval = time.Second

// autoPlayLoop pulls one timeframe step per iteration, pacing itself by
// the session's current speed: a for-select loop that checks ctx.Done()
// first, then waits out a computed delay before the next step, and exits
// cleanly (never panics) on error.
func (s *Session) autoPlayLoop(ctx context.Context, tick func(context.Context) error) {
	defer func() {
		s.playMu.Lock()
		s.playState = PlayStopped
		s.playMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := tick(ctx); err != nil {
			if s.logger != nil {
				s.logger.Warn("auto-play tick failed, stopping", "error", err)
			}
			return
		}

		delay := time.Duration(float64(baseStepInterval) / s.Speed())
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

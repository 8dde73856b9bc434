// Package transition implements the TransitionCoordinator: one method per
// user operation (Go-To-Date, Timeframe-Switch, Skip, auto-play tick),
// each walking the 5-phase protocol (PRE, DESTRUCT, LOAD, COMMIT,
// BROADCAST) against a single session under its transition mutex. Each
// phase runs as a plain ctx-aware step within one request handler rather
// than a long-lived streaming pipeline stage.
package transition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"candlereplay/internal/aggregator"
	"candlereplay/internal/broadcaster"
	"candlereplay/internal/candlestore"
	"candlereplay/internal/logger"
	"candlereplay/internal/metrics"
	"candlereplay/internal/model"
	"candlereplay/internal/session"
	"candlereplay/internal/skipstore"
	"candlereplay/internal/validator"
)

// ErrCSVExhausted is returned by an auto-play tick that would advance
// past the active timeframe's last loaded candle. Manual Skip calls have
// no such limit — synthesizing candles past the end of history is the
// documented purpose of SkipStore — but unattended auto-play must stop
// rather than generate synthetic candles indefinitely.
var ErrCSVExhausted = errors.New("transition: reached end of available data")

// ClientSender is the subset of *broadcaster.Client the coordinator needs.
// Kept as an interface so transaction tests can stub it out without a
// real websocket connection.
type ClientSender interface {
	Send(broadcaster.Envelope) error
	WaitAck(timeout time.Duration) bool
}

// Coordinator drives CandleStore, SkipStore, LifecycleManager, and
// Broadcaster through the 5-phase protocol. Stateless across calls except
// for the transaction-id counter; all per-session state lives on the
// *session.Session passed into each method.
type Coordinator struct {
	store      *candlestore.Store
	skips      *skipstore.Store
	validator  *validator.Validator
	windowSize int

	timeoutNormal    time.Duration
	timeoutAfterGoto time.Duration

	txCounter int64
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// SetMetrics attaches a Prometheus metrics sink. Optional — nil-safe call
// sites elsewhere in the coordinator skip recording when unset, which is
// how every existing test constructs a Coordinator today.
func (c *Coordinator) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// New builds a Coordinator. windowSize is the visible-window candle count
// (spec default 200); the two timeouts are the normal and
// post-Go-To-Date transition deadlines.
func New(store *candlestore.Store, skips *skipstore.Store, v *validator.Validator, windowSize int, timeoutNormal, timeoutAfterGoto time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:            store,
		skips:            skips,
		validator:        v,
		windowSize:       windowSize,
		timeoutNormal:    timeoutNormal,
		timeoutAfterGoto: timeoutAfterGoto,
		logger:           logger,
	}
}

func (c *Coordinator) nextTxID(kind model.TransactionKind) string {
	n := atomic.AddInt64(&c.txCounter, 1)
	return fmt.Sprintf("%s-%d", kind, n)
}

// plan is the PRE phase's output: spec.md's transition plan.
type plan struct {
	needsRecreation bool
	reason          string
	targetTF        model.Timeframe
	targetEndTime   int64
	expectedCount   int
}

// buildPlan computes PRE's transition plan against the session's current
// lifecycle state.
func (c *Coordinator) buildPlan(s *session.Session, targetTF model.Timeframe, targetEndTime int64) plan {
	needsRecreation := s.Lifecycle().NeedsRecreation()
	reason := "clean"
	if needsRecreation {
		reason = "skip_ops_or_corrupted"
	}
	return plan{
		needsRecreation: needsRecreation,
		reason:          reason,
		targetTF:        targetTF,
		targetEndTime:   targetEndTime,
		expectedCount:   c.windowSize,
	}
}

// destruct runs the DESTRUCT phase: if recreation is needed, tell the
// client to tear down its series and wait for an ack (bounded by
// timeout). A missed ack is not fatal — the coordinator proceeds
// optimistically and the caller is responsible for scheduling
// emergency_recovery_required if phases 3-5 then fail.
func (c *Coordinator) destruct(client ClientSender, p plan, version int, timeout time.Duration) (fired, acked bool) {
	if !p.needsRecreation {
		return false, true
	}
	if client == nil {
		return true, false
	}
	if err := client.Send(broadcaster.Envelope{
		Type:    broadcaster.TypeSeriesRecreation,
		Version: version,
	}); err != nil {
		return true, false
	}
	return true, client.WaitAck(timeout)
}

// load runs the LOAD phase: compute the visible index window, fetch
// historical candles, merge in projected skip candles (skips override
// historical candles at identical timestamps), and sanitize.
func (c *Coordinator) load(tf model.Timeframe, targetEndTime int64, nowUnix int64) ([]model.Candle, error) {
	series, ok := c.store.Series(tf.Name)
	var historical []model.Candle
	if ok {
		endIndex := series.FindIndex(targetEndTime) + 1
		startIndex := endIndex - c.windowSize
		if startIndex < 0 {
			startIndex = 0
		}
		historical = series.Slice(endIndex, endIndex-startIndex)
	}

	skipCandles := c.skips.Project(tf)

	merged := mergeSkipsOverHistorical(historical, skipCandles)

	var lastKnown float64
	if len(merged) > 0 {
		lastKnown = merged[len(merged)-1].Close
	} else if last, ok := seriesLast(c.store, tf); ok {
		lastKnown = last.Close
	}

	return c.validator.SanitizeOrFallback(merged, nowUnix, lastKnown), nil
}

func seriesLast(store *candlestore.Store, tf model.Timeframe) (model.Candle, bool) {
	s, ok := store.Series(tf.Name)
	if !ok {
		return model.Candle{}, false
	}
	return s.Last()
}

// mergeSkipsOverHistorical overlays skip candles onto the historical
// slice, keyed by aligned time; a skip candle at an identical timestamp
// wins over the historical one. The result is sorted ascending by time.
func mergeSkipsOverHistorical(historical, skips []model.Candle) []model.Candle {
	byTime := make(map[int64]model.Candle, len(historical)+len(skips))
	for _, c := range historical {
		byTime[c.Time] = c
	}
	for _, c := range skips {
		byTime[c.Time] = c
	}
	out := make([]model.Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sortCandlesByTime(out)
	return out
}

func sortCandlesByTime(cs []model.Candle) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j].Time < cs[j-1].Time; j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

// runOpts carries the per-call variations the 5-phase skeleton needs
// without growing run()'s positional parameter list further: a target-date
// string to surface on go_to_date_complete, and an optional override for
// what the BROADCAST phase sends in place of the full visible window.
type runOpts struct {
	targetDate       string
	broadcastCandles []model.Candle
}

// Result carries the outcome of a completed transition back to the HTTP
// handler that initiated it.
type Result struct {
	Candles       []model.Candle
	Timeframe     string
	TransactionID string
	Contamination model.ContaminationLevel
	LoadAnchor    int64
	Version       int
}

// GoToDate resets the session to the given date, reloading its active
// timeframe's visible window around it. Uses the longer
// post-Go-To-Date-family timeout. targetDate is the raw "YYYY-MM-DD"
// string the request carried, surfaced verbatim on the go_to_date_complete
// broadcast.
func (c *Coordinator) GoToDate(ctx context.Context, s *session.Session, client ClientSender, targetDate int64, nowUnix int64, targetDateStr string) (Result, error) {
	s.StopAutoPlay()
	return c.run(ctx, s, client, model.KindGoto, s.Timeframe(), targetDate, c.timeoutAfterGoto, runOpts{targetDate: targetDateStr}, func() {
		s.GoToDate(targetDate)
	})
}

// SwitchTimeframe changes the session's active timeframe, reloading its
// visible window at the current load anchor.
func (c *Coordinator) SwitchTimeframe(ctx context.Context, s *session.Session, client ClientSender, tf model.Timeframe) (Result, error) {
	return c.run(ctx, s, client, model.KindSwitchTF, tf, s.Cursor().LoadAnchor(), c.timeoutNormal, runOpts{}, func() {
		s.SetTimeframe(tf)
	})
}

// Skip advances the session by one candle on its active timeframe,
// appends the resulting candle to the SkipStore, and reloads the window.
// The skip_complete broadcast carries only the newly appended candle, not
// the full visible window — a narrower payload than the other transition
// kinds send.
func (c *Coordinator) Skip(ctx context.Context, s *session.Session, client ClientSender, nowUnix int64) (Result, error) {
	tf := s.Timeframe()
	anchor := s.Cursor().LoadAnchor()
	nextTime := aggregator.Align(anchor, tf) + tf.Seconds()

	lastKnown := c.lastKnownPrice(s)
	skipCandle := model.Candle{
		Time:   nextTime,
		Open:   lastKnown,
		High:   lastKnown,
		Low:    lastKnown,
		Close:  lastKnown,
		Volume: 0,
	}

	opts := runOpts{broadcastCandles: []model.Candle{skipCandle}}
	return c.run(ctx, s, client, model.KindSkip, tf, nextTime, c.timeoutNormal, opts, func() {
		c.skips.Append(tf.Name, skipCandle, nowUnix)
		s.Lifecycle().TrackSkip()
		s.Skip()
	})
}

// WouldExceedData reports whether one more Skip step from the session's
// current position would land past the active timeframe's last loaded
// candle. Used to bound auto-play: it stops and the cursor clamps at the
// last available candle instead of drifting into synthetic territory
// forever. Manual Skip calls are not bound by this.
func (c *Coordinator) WouldExceedData(s *session.Session) bool {
	tf := s.Timeframe()
	series, ok := c.store.Series(tf.Name)
	if !ok {
		return true
	}
	last, ok := series.Last()
	if !ok {
		return true
	}
	anchor := s.Cursor().LoadAnchor()
	nextTime := aggregator.Align(anchor, tf) + tf.Seconds()
	return nextTime > last.Time
}

func (c *Coordinator) lastKnownPrice(s *session.Session) float64 {
	tf := s.Timeframe()
	series, ok := c.store.Series(tf.Name)
	if !ok {
		return 0
	}
	idx := series.FindIndex(s.Cursor().LoadAnchor())
	if idx < series.Len() {
		return series.Candles[idx].Close
	}
	last, ok := series.Last()
	if !ok {
		return 0
	}
	return last.Close
}

// run is the shared 5-phase skeleton used by every public operation.
// mutate is called inside COMMIT, after LOAD has succeeded, to apply the
// operation's effect on the session (advance cursor, record skip, etc.).
func (c *Coordinator) run(ctx context.Context, s *session.Session, client ClientSender, kind model.TransactionKind, tf model.Timeframe, targetEndTime int64, timeout time.Duration, opts runOpts, mutate func()) (Result, error) {
	s.TransitionMu.Lock()
	defer s.TransitionMu.Unlock()

	txID := c.nextTxID(kind)
	nowUnix := time.Now().Unix()
	started := time.Now()

	tx := &model.TransitionTransaction{
		ID:            txID,
		Kind:          kind,
		FromTF:        s.Timeframe().Name,
		ToTF:          tf.Name,
		RequestedTime: targetEndTime,
		Phase:         model.PhasePre,
	}

	// PRE
	snapshot := s.Lifecycle().BeginTransition()
	p := c.buildPlan(s, tf, targetEndTime)

	// DESTRUCT
	tx.Phase = model.PhaseDestruct
	destructFired, _ := c.destruct(client, p, snapshot.Version+1, timeout)

	// LOAD
	tx.Phase = model.PhaseLoad
	candles, err := c.load(tf, targetEndTime, nowUnix)
	if err == nil && kind == model.KindSkip {
		// The skip candle reaches SkipStore only in COMMIT; overlay it here
		// so the returned window already ends with it.
		candles = mergeSkipsOverHistorical(candles, c.validator.Sanitize(opts.broadcastCandles))
	}
	if err != nil {
		tx.Phase = model.PhaseRolledBack
		s.Lifecycle().RollBack(snapshot)
		if destructFired && client != nil {
			client.Send(broadcaster.Envelope{Type: broadcaster.TypeEmergencyRecovery})
		}
		if c.metrics != nil {
			c.metrics.TransitionRollbacks.Inc()
		}
		c.logTx(ctx, tx, "load failed")
		return Result{}, fmt.Errorf("transition %s: load failed: %w", txID, err)
	}

	// COMMIT
	tx.Phase = model.PhaseCommit
	s.Lifecycle().Complete(true, p.needsRecreation)
	mutate()

	// BROADCAST
	tx.Phase = model.PhaseBroadcast
	state := s.Lifecycle().State()
	contamination := c.skips.ContaminationLevel(tf)
	result := Result{
		Candles:       candles,
		Timeframe:     tf.Name,
		TransactionID: txID,
		Contamination: contamination,
		LoadAnchor:    s.Cursor().LoadAnchor(),
		Version:       state.Version,
	}

	if client != nil {
		envType := messageTypeFor(kind)
		broadcastCandles := candles
		if opts.broadcastCandles != nil {
			broadcastCandles = opts.broadcastCandles
		}
		env := broadcaster.Envelope{
			Type:          envType,
			Candles:       broadcastCandles,
			Timeframe:     tf.Name,
			TransactionID: txID,
			Contamination: string(contamination),
			ClearCache:    kind == model.KindGoto,
			LoadAnchor:    result.LoadAnchor,
			Version:       state.Version,
		}
		// skip_complete carries only the newly appended candle(s); the
		// visible-range hint and target date only make sense alongside the
		// full window the other two kinds send.
		if kind != model.KindSkip && len(candles) > 0 {
			env.VisibleRangeFrom = candles[0].Time
			env.VisibleRangeTo = candles[len(candles)-1].Time
		}
		if kind == model.KindGoto {
			env.TargetDate = opts.targetDate
		}
		client.Send(env)
	}

	tx.Phase = model.PhaseDone
	c.logTx(ctx, tx, "complete")
	c.recordMetrics(kind, p.needsRecreation, tf, time.Since(started))

	return result, nil
}

// recordMetrics records the Prometheus observations for one completed
// transition. Centralized here, rather than in each HTTP handler, so an
// auto-play tick (which calls Skip directly, bypassing the handler) is
// counted the same as a manually triggered one.
func (c *Coordinator) recordMetrics(kind model.TransactionKind, recreated bool, tf model.Timeframe, dur time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.TransitionsTotal.WithLabelValues(string(kind)).Inc()
	c.metrics.TransitionDur.WithLabelValues(string(kind)).Observe(dur.Seconds())
	if recreated {
		c.metrics.RecreationsTotal.Inc()
	}
	if kind == model.KindSkip {
		c.metrics.SkipOpsTotal.Inc()
	}
	c.metrics.ContaminationGauge.WithLabelValues(tf.Name).Set(float64(c.skips.CountForTimeframe(tf)))
}

func (c *Coordinator) logTx(ctx context.Context, tx *model.TransitionTransaction, msg string) {
	if c.logger == nil {
		return
	}
	attrs := []any{"kind", tx.Kind, "from_tf", tx.FromTF, "to_tf", tx.ToTF, "tx", tx.ID, "phase", tx.Phase}
	attrs = append(attrs, logger.LogWithTrace(ctx)...)
	c.logger.Info("transition "+msg, attrs...)
}

func messageTypeFor(kind model.TransactionKind) broadcaster.MessageType {
	switch kind {
	case model.KindGoto:
		return broadcaster.TypeGoToDateComplete
	case model.KindSkip:
		return broadcaster.TypeSkipComplete
	case model.KindSwitchTF:
		return broadcaster.TypeTimeframeChanged
	default:
		return broadcaster.TypeTimeframeChanged
	}
}

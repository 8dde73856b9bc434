package transition

import (
	"context"
	"testing"
	"time"

	"candlereplay/internal/broadcaster"
	"candlereplay/internal/candlestore"
	"candlereplay/internal/model"
	"candlereplay/internal/session"
	"candlereplay/internal/skipstore"
	"candlereplay/internal/validator"
)

// fakeClient records sent envelopes and always acks immediately, standing
// in for a real *broadcaster.Client in tests.
type fakeClient struct {
	sent []broadcaster.Envelope
}

func (f *fakeClient) Send(env broadcaster.Envelope) error {
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeClient) WaitAck(timeout time.Duration) bool { return true }

func buildStore(t *testing.T) *candlestore.Store {
	t.Helper()
	st := candlestore.New()
	tf5, _ := model.ParseTimeframe("5m")
	series := &candlestore.Series{Timeframe: tf5}
	for i := int64(0); i < 300; i++ {
		series.Candles = append(series.Candles, model.Candle{
			Time: i * 300, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1,
		})
	}
	st.Put(series)
	return st
}

func newCoordinator(t *testing.T) (*Coordinator, *session.Session) {
	t.Helper()
	store := buildStore(t)
	skips := skipstore.New()
	v := validator.New()
	v.MinPrice = 0
	coord := New(store, skips, v, 50, 8*time.Second, 15*time.Second, nil)
	tf5, _ := model.ParseTimeframe("5m")
	s := session.New(tf5, 299*300, nil)
	return coord, s
}

func TestSkip_AdvancesCursorAndAppendsSkipEvent(t *testing.T) {
	coord, s := newCoordinator(t)
	client := &fakeClient{}

	res, err := coord.Skip(context.Background(), s, client, 1700000000)
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if res.Timeframe != "5m" {
		t.Fatalf("expected tf=5m, got %s", res.Timeframe)
	}
	if s.Cursor().Mode != model.CursorDrifting {
		t.Fatalf("expected DRIFTING after skip, got %s", s.Cursor().Mode)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(client.sent))
	}
	if client.sent[0].Type != broadcaster.TypeSkipComplete {
		t.Fatalf("expected skip_complete, got %s", client.sent[0].Type)
	}
}

func TestSkip_BroadcastCarriesOnlyTheNewCandle(t *testing.T) {
	coord, s := newCoordinator(t)
	client := &fakeClient{}

	res, err := coord.Skip(context.Background(), s, client, 1700000000)
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if len(res.Candles) <= 1 {
		t.Fatalf("expected the synchronous result to carry the full window, got %d candles", len(res.Candles))
	}

	env := client.sent[len(client.sent)-1]
	if len(env.Candles) != 1 {
		t.Fatalf("expected skip_complete broadcast to carry exactly 1 candle, got %d", len(env.Candles))
	}
	if env.Candles[0].Time != res.Candles[len(res.Candles)-1].Time {
		t.Fatalf("expected the broadcast candle to be the newly appended one")
	}
	if env.VisibleRangeFrom != 0 || env.VisibleRangeTo != 0 {
		t.Fatal("expected no visible-range hint on a skip_complete broadcast")
	}
	if env.TargetDate != "" {
		t.Fatal("expected no target_date on a skip_complete broadcast")
	}
}

func TestSkip_MarksSkipModifiedAndNeedsRecreationNextTime(t *testing.T) {
	coord, s := newCoordinator(t)
	client := &fakeClient{}

	if _, err := coord.Skip(context.Background(), s, client, 1700000000); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if s.Lifecycle().State().SeriesState != model.StateSkipModified {
		t.Fatalf("expected SKIP_MODIFIED after a skip, got %s", s.Lifecycle().State().SeriesState)
	}
	if !s.Lifecycle().NeedsRecreation() {
		t.Fatal("expected recreation needed after a skip")
	}
}

func TestGoToDate_ResetsAnchorAndClearsCache(t *testing.T) {
	coord, s := newCoordinator(t)
	client := &fakeClient{}

	if _, err := coord.Skip(context.Background(), s, client, 1700000000); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if _, err := coord.GoToDate(context.Background(), s, client, 90000, 1700000100, "1970-01-02"); err != nil {
		t.Fatalf("goto: %v", err)
	}

	if s.Cursor().Mode != model.CursorAnchor || s.Cursor().AnchorDate != 90000 {
		t.Fatalf("expected anchor reset to 90000, got %+v", s.Cursor())
	}

	last := client.sent[len(client.sent)-1]
	if last.Type != broadcaster.TypeGoToDateComplete {
		t.Fatalf("expected go_to_date_complete, got %s", last.Type)
	}
	if !last.ClearCache {
		t.Fatal("expected clear_cache=true on go-to-date broadcast")
	}
	if last.TargetDate != "1970-01-02" {
		t.Fatalf("expected target_date to be carried on the broadcast, got %q", last.TargetDate)
	}
	if last.VisibleRangeFrom == 0 || last.VisibleRangeTo == 0 || last.VisibleRangeFrom > last.VisibleRangeTo {
		t.Fatalf("expected a populated visible range, got [%d, %d]", last.VisibleRangeFrom, last.VisibleRangeTo)
	}
}

func TestGoToDate_TriggersRecreationAfterPriorSkip(t *testing.T) {
	coord, s := newCoordinator(t)
	client := &fakeClient{}

	coord.Skip(context.Background(), s, client, 1700000000)
	client.sent = nil

	if _, err := coord.GoToDate(context.Background(), s, client, 90000, 1700000100, "1970-01-02"); err != nil {
		t.Fatalf("goto: %v", err)
	}

	foundRecreation := false
	for _, env := range client.sent {
		if env.Type == broadcaster.TypeSeriesRecreation {
			foundRecreation = true
		}
	}
	if !foundRecreation {
		t.Fatal("expected a chart_series_recreation broadcast before the go_to_date_complete")
	}
}

func TestSwitchTimeframe_UnavailableTimeframeStillReturnsFallback(t *testing.T) {
	coord, s := newCoordinator(t)
	client := &fakeClient{}

	tf1, _ := model.ParseTimeframe("1m")
	res, err := coord.SwitchTimeframe(context.Background(), s, client, tf1)
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if len(res.Candles) == 0 {
		t.Fatal("expected a non-empty (synthetic fallback) candle set for unavailable timeframe")
	}

	env := client.sent[len(client.sent)-1]
	if env.VisibleRangeFrom == 0 || env.VisibleRangeTo == 0 {
		t.Fatal("expected a populated visible-range hint on a timeframe_changed broadcast")
	}
}

func TestWouldExceedData_TrueAtLastCandle(t *testing.T) {
	coord, s := newCoordinator(t)
	// newCoordinator anchors the session at the series' last candle time.
	if !coord.WouldExceedData(s) {
		t.Fatal("expected WouldExceedData to be true once anchored at the last loaded candle")
	}
}

func TestWouldExceedData_FalseBeforeLastCandle(t *testing.T) {
	coord, s := newCoordinator(t)
	client := &fakeClient{}
	if _, err := coord.GoToDate(context.Background(), s, client, 0, 1700000000, "1970-01-01"); err != nil {
		t.Fatalf("goto: %v", err)
	}
	if coord.WouldExceedData(s) {
		t.Fatal("expected WouldExceedData to be false when well before the last loaded candle")
	}
}

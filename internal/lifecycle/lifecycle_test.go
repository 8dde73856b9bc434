package lifecycle

import (
	"testing"

	"candlereplay/internal/model"
)

func TestNew_StartsClean(t *testing.T) {
	m := New()
	if m.State().SeriesState != model.StateClean {
		t.Fatalf("expected CLEAN, got %s", m.State().SeriesState)
	}
	if m.NeedsRecreation() {
		t.Fatal("fresh manager should not need recreation")
	}
}

func TestTrackSkip_MovesToSkipModified(t *testing.T) {
	m := New()
	m.TrackSkip()
	if m.State().SeriesState != model.StateSkipModified {
		t.Fatalf("expected SKIP_MODIFIED, got %s", m.State().SeriesState)
	}
	if m.State().SkipOpsSinceClean != 1 {
		t.Fatalf("expected counter=1, got %d", m.State().SkipOpsSinceClean)
	}
	if !m.NeedsRecreation() {
		t.Fatal("expected recreation needed after a skip")
	}
}

func TestTrackSkip_AccumulatesFromDataLoaded(t *testing.T) {
	m := New()
	m.state.SeriesState = model.StateDataLoaded
	m.TrackSkip()
	m.TrackSkip()
	if m.State().SeriesState != model.StateSkipModified {
		t.Fatalf("expected SKIP_MODIFIED, got %s", m.State().SeriesState)
	}
	if m.State().SkipOpsSinceClean != 2 {
		t.Fatalf("expected counter=2, got %d", m.State().SkipOpsSinceClean)
	}
}

func TestBeginTransition_RollBack(t *testing.T) {
	m := New()
	m.TrackSkip()
	snapshot := m.BeginTransition()
	if m.State().SeriesState != model.StateTransitioning {
		t.Fatalf("expected TRANSITIONING, got %s", m.State().SeriesState)
	}
	m.RollBack(snapshot)
	if m.State().SeriesState != model.StateSkipModified {
		t.Fatalf("expected rollback to SKIP_MODIFIED, got %s", m.State().SeriesState)
	}
	if m.State().SkipOpsSinceClean != 1 {
		t.Fatalf("expected rollback to preserve counter=1, got %d", m.State().SkipOpsSinceClean)
	}
}

func TestComplete_SuccessWithRecreationResetsCounter(t *testing.T) {
	m := New()
	m.TrackSkip()
	m.TrackSkip()
	m.BeginTransition()
	m.Complete(true, true)

	s := m.State()
	if s.SeriesState != model.StateDataLoaded {
		t.Fatalf("expected DATA_LOADED, got %s", s.SeriesState)
	}
	if s.SkipOpsSinceClean != 0 {
		t.Fatalf("expected counter reset to 0, got %d", s.SkipOpsSinceClean)
	}
	if s.Version != 1 {
		t.Fatalf("expected version bumped to 1, got %d", s.Version)
	}
}

func TestComplete_SuccessWithoutRecreationKeepsCounter(t *testing.T) {
	m := New()
	m.TrackSkip()
	m.BeginTransition()
	m.Complete(true, false)

	s := m.State()
	if s.SeriesState != model.StateDataLoaded {
		t.Fatalf("expected DATA_LOADED, got %s", s.SeriesState)
	}
	if s.SkipOpsSinceClean != 1 {
		t.Fatalf("expected counter preserved at 1, got %d", s.SkipOpsSinceClean)
	}
	if s.Version != 0 {
		t.Fatalf("expected version unchanged, got %d", s.Version)
	}
}

func TestComplete_FailureGoesCorrupted(t *testing.T) {
	m := New()
	m.BeginTransition()
	m.Complete(false, false)
	if m.State().SeriesState != model.StateCorrupted {
		t.Fatalf("expected CORRUPTED, got %s", m.State().SeriesState)
	}
	if !m.NeedsRecreation() {
		t.Fatal("corrupted state must force recreation on next transition")
	}
}

func TestContamination_Buckets(t *testing.T) {
	cases := []struct {
		count int
		want  model.ContaminationLevel
	}{
		{0, model.ContaminationClean},
		{1, model.ContaminationLight},
		{2, model.ContaminationLight},
		{3, model.ContaminationModerate},
		{5, model.ContaminationModerate},
		{6, model.ContaminationHeavy},
		{100, model.ContaminationHeavy},
	}
	for _, c := range cases {
		if got := Contamination(c.count); got != c.want {
			t.Errorf("Contamination(%d) = %s, want %s", c.count, got, c.want)
		}
	}
}

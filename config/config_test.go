package config

import (
	"os"
	"testing"
)

func TestLoad_DefaultsRequireNoEnv(t *testing.T) {
	for _, k := range []string{
		"DATA_PATH", "DEFAULT_TIMEFRAME", "VISIBLE_WINDOW_SIZE",
		"TRANSITION_TIMEOUT_NORMAL_MS", "TRANSITION_TIMEOUT_AFTER_GOTO_MS",
		"PORT", "ALLOWED_ORIGINS", "METRICS_ADDR", "LOG_LEVEL",
	} {
		os.Unsetenv(k)
	}

	c := Load()
	if c.DataPath != "data" {
		t.Errorf("DataPath default: got %q", c.DataPath)
	}
	if c.DefaultTimeframe != "5m" {
		t.Errorf("DefaultTimeframe default: got %q", c.DefaultTimeframe)
	}
	if c.VisibleWindowSize != 200 {
		t.Errorf("VisibleWindowSize default: got %d", c.VisibleWindowSize)
	}
	if c.TransitionTimeoutNormalMs != 8000 {
		t.Errorf("TransitionTimeoutNormalMs default: got %d", c.TransitionTimeoutNormalMs)
	}
	if c.TransitionTimeoutAfterGotoMs != 15000 {
		t.Errorf("TransitionTimeoutAfterGotoMs default: got %d", c.TransitionTimeoutAfterGotoMs)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	os.Setenv("VISIBLE_WINDOW_SIZE", "50")
	defer os.Unsetenv("VISIBLE_WINDOW_SIZE")

	c := Load()
	if c.VisibleWindowSize != 50 {
		t.Errorf("expected override to 50, got %d", c.VisibleWindowSize)
	}
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	os.Setenv("VISIBLE_WINDOW_SIZE", "not-a-number")
	defer os.Unsetenv("VISIBLE_WINDOW_SIZE")

	c := Load()
	if c.VisibleWindowSize != 200 {
		t.Errorf("expected fallback to default 200, got %d", c.VisibleWindowSize)
	}
}

func TestOriginList_SplitsAndTrims(t *testing.T) {
	c := &Config{AllowedOrigins: "http://a.com, http://b.com ,"}
	got := c.OriginList()
	if len(got) != 2 || got[0] != "http://a.com" || got[1] != "http://b.com" {
		t.Fatalf("unexpected origin list: %+v", got)
	}
}

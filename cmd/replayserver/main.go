// Command replayserver is the historical-market-data replay server:
// it loads the fixed instrument's per-timeframe candle datasets once at
// startup, then serves a single chart client over HTTP and a duplex
// WebSocket channel. Bootstrap follows an env-driven config load, a
// goroutine-started HTTP server, and a signal-driven graceful shutdown
// shape, wired directly to CandleStore/SkipStore/Session/Coordinator
// rather than any pub-sub broker.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"candlereplay/config"
	"candlereplay/internal/api"
	"candlereplay/internal/candlestore"
	"candlereplay/internal/logger"
	"candlereplay/internal/metrics"
	"candlereplay/internal/model"
	"candlereplay/internal/session"
	"candlereplay/internal/skipstore"
	"candlereplay/internal/transition"
	"candlereplay/internal/validator"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	slogLevel := parseLevel(cfg.LogLevel)
	slogger := logger.Init("replayserver", slogLevel)
	slogger.Info("starting", "instrument", cfg.InstrumentSymbol, "exchange", cfg.InstrumentExchange, "port", cfg.Port)

	store := candlestore.New()
	store.LoadAll(cfg.DataPath, model.Timeframes, slogger)

	defaultTF, ok := model.ParseTimeframe(cfg.DefaultTimeframe)
	if !ok {
		slogger.Warn("unknown default timeframe, falling back to 5m", "configured", cfg.DefaultTimeframe)
		defaultTF, _ = model.ParseTimeframe("5m")
	}

	health := metrics.NewHealthStatus()
	health.SetDataLoaded(anyTimeframeAvailable(store))

	anchor := initialAnchor(store, defaultTF)

	skips := skipstore.New()
	v := validator.New()
	m := metrics.NewMetrics()
	v.SetMetrics(m)

	coord := transition.New(
		store,
		skips,
		v,
		cfg.VisibleWindowSize,
		time.Duration(cfg.TransitionTimeoutNormalMs)*time.Millisecond,
		time.Duration(cfg.TransitionTimeoutAfterGotoMs)*time.Millisecond,
		slogger,
	)

	coord.SetMetrics(m)

	instrument := model.Instrument{Symbol: cfg.InstrumentSymbol, Exchange: cfg.InstrumentExchange}
	sess := session.NewWithInstrument(defaultTF, anchor, instrument, slogger)

	apiServer := api.New(coord, sess, cfg.OriginList(), m, health, slogger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: apiServer.Mux(),
	}

	metricsServer := metrics.NewServer(cfg.MetricsAddr, health)
	metricsServer.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slogger.Info("chart api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slogger.Error("chart api server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slogger.Info("shutting down")
	cancel()
	sess.StopAutoPlay()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	metricsServer.Stop(shutdownCtx)
}

// initialAnchor resolves the "start anchored at the last available
// candle" rule for the default timeframe, falling back to the current
// time if that timeframe's dataset failed to load.
func initialAnchor(store *candlestore.Store, tf model.Timeframe) int64 {
	series, ok := store.Series(tf.Name)
	if !ok {
		return time.Now().Unix()
	}
	last, ok := series.Last()
	if !ok {
		return time.Now().Unix()
	}
	return last.Time
}

func anyTimeframeAvailable(store *candlestore.Store) bool {
	return len(store.AvailableTimeframes()) > 0
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

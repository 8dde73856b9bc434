// Package api implements the HTTP and WebSocket surface: the chart
// data/timeframe/skip/debug endpoints and the /ws duplex upgrade, backed
// by CORS/origin-allowlist helpers and a single connected session
// reading directly from CandleStore/SkipStore through a
// TransitionCoordinator — there is no multi-client pub-sub gateway here.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"candlereplay/internal/broadcaster"
	"candlereplay/internal/logger"
	"candlereplay/internal/metrics"
	"candlereplay/internal/model"
	"candlereplay/internal/session"
	"candlereplay/internal/transition"
)

// Server wires the HTTP surface to a single active Session and its
// Coordinator. Only one chart client is supported at a time, matching the
// single-session scope of the replay server.
type Server struct {
	coord   *transition.Coordinator
	sess    *session.Session
	logger  *slog.Logger
	metrics *metrics.Metrics
	health  *metrics.HealthStatus
	allowed []string

	upgrader websocket.Upgrader

	clientMu sync.Mutex
	client   *broadcaster.Client
}

// New builds a Server. allowedOrigins controls both the CORS header and
// the WebSocket upgrader's CheckOrigin: allow all on "*", else an exact
// match against the configured allowlist.
func New(coord *transition.Coordinator, sess *session.Session, allowedOrigins []string, m *metrics.Metrics, health *metrics.HealthStatus, logger *slog.Logger) *Server {
	s := &Server{
		coord:   coord,
		sess:    sess,
		logger:  logger,
		metrics: m,
		health:  health,
		allowed: allowedOrigins,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:       s.checkOrigin,
		EnableCompression: true,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	for _, o := range s.allowed {
		if o == "*" {
			return true
		}
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.allowed {
		if o == origin {
			return true
		}
	}
	if s.logger != nil {
		s.logger.Warn("rejected ws origin", "origin", origin)
	}
	return false
}

// setCORS sets CORS headers for REST endpoints.
func (s *Server) setCORS(w http.ResponseWriter) {
	origin := "*"
	for _, o := range s.allowed {
		if o != "*" {
			origin = strings.Join(s.allowed, ", ")
			break
		}
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error shape — never an HTML error page,
// since that breaks the chart client's parser.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

// Mux builds the complete HTTP route table for the chart API server. The
// metrics/health server is built and started separately by
// internal/metrics.Server.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.withTrace(s.handleIndex))
	mux.HandleFunc("/ws", s.withTrace(s.handleWS))

	mux.HandleFunc("/api/chart/data", s.withTrace(s.withCORS(s.handleChartData)))
	mux.HandleFunc("/api/chart/change_timeframe", s.withTrace(s.withCORS(s.handleChangeTimeframe)))
	mux.HandleFunc("/api/chart/go_to_date", s.withTrace(s.withCORS(s.handleGoToDate)))

	mux.HandleFunc("/api/debug/skip", s.withTrace(s.withCORS(s.handleDebugSkip)))
	mux.HandleFunc("/api/debug/set_timeframe/", s.withTrace(s.withCORS(s.handleDebugSetTimeframe)))
	mux.HandleFunc("/api/debug/set_speed", s.withTrace(s.withCORS(s.handleDebugSetSpeed)))
	mux.HandleFunc("/api/debug/toggle_play", s.withTrace(s.withCORS(s.handleDebugTogglePlay)))
	mux.HandleFunc("/api/debug/state", s.withTrace(s.withCORS(s.handleDebugState)))

	return mux
}

func (s *Server) withCORS(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.setCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		h(w, r)
	}
}

// withTrace tags the request's context with a trace ID before calling h,
// so every transition or log line triggered downstream — including the
// TransitionCoordinator's phase log — can be correlated back to the
// request that caused it.
func (s *Server) withTrace(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		traceID := logger.GenerateTraceID(r.Method+"-"+r.URL.Path, time.Now())
		ctx := logger.WithTraceID(r.Context(), traceID)
		r = r.WithContext(ctx)
		if s.logger != nil {
			s.logger.Info("request", append([]any{"path", r.URL.Path}, logger.LogWithTrace(ctx)...)...)
		}
		h(w, r)
	}
}

// handleIndex serves a minimal status page at "/" — the chart client
// itself is a separate static asset outside this module's scope.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	inst := s.sess.Instrument()
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timeframe": s.sess.Timeframe().Name,
		"symbol":    inst.Symbol,
		"exchange":  inst.Exchange,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("ws upgrade failed", "error", err)
		}
		return
	}

	client := broadcaster.NewClient(conn, s.logger)
	client.SetMetrics(s.metrics)
	s.setClient(client)
	if s.metrics != nil {
		s.metrics.WSClientsConnected.Inc()
	}
	if s.health != nil {
		s.health.SetWSClients(1)
	}

	go client.WritePump()

	cur := s.sess.Cursor()
	client.Send(broadcaster.Envelope{
		Type:        broadcaster.TypeInitialChartData,
		Timeframe:   s.sess.Timeframe().Name,
		CursorMode:  string(cur.Mode),
		CursorValue: cur.LoadAnchor(),
	})

	client.ReadPump(func() {
		s.clearClient(client)
		if s.metrics != nil {
			s.metrics.WSClientsConnected.Dec()
		}
		if s.health != nil {
			s.health.SetWSClients(0)
		}
	})
}

func (s *Server) handleChartData(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.SwitchTimeframe(r.Context(), s.sess, s.getClient(), s.sess.Timeframe())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"candles":       res.Candles,
		"timeframe":     res.Timeframe,
		"contamination": string(res.Contamination),
		"load_anchor":   res.LoadAnchor,
	})
}

func (s *Server) handleChangeTimeframe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req struct {
		Timeframe string `json:"timeframe"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tf, ok := model.ParseTimeframe(req.Timeframe)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "unknown timeframe: "+req.Timeframe)
		return
	}

	res, err := s.coord.SwitchTimeframe(r.Context(), s.sess, s.getClient(), tf)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timeframe": res.Timeframe,
		"data":      res.Candles,
	})
}

func (s *Server) handleGoToDate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req struct {
		TargetDate string `json:"target_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	t, err := time.Parse("2006-01-02", req.TargetDate)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "target_date must be YYYY-MM-DD")
		return
	}

	res, err := s.coord.GoToDate(r.Context(), s.sess, s.getClient(), t.Unix(), time.Now().Unix(), req.TargetDate)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"target_date": req.TargetDate,
		"timeframe":   res.Timeframe,
		"data":        res.Candles,
	})
}

func (s *Server) handleDebugSkip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	res, err := s.coord.Skip(r.Context(), s.sess, s.getClient(), time.Now().Unix())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var candle model.Candle
	if len(res.Candles) > 0 {
		candle = res.Candles[len(res.Candles)-1]
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "candle": candle})
}

func (s *Server) handleDebugSetTimeframe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/debug/set_timeframe/")
	tf, ok := model.ParseTimeframe(name)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "unknown timeframe: "+name)
		return
	}
	if _, err := s.coord.SwitchTimeframe(r.Context(), s.sess, s.getClient(), tf); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDebugSetSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.sess.SetSpeed(req.Speed)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "speed": s.sess.Speed()})
}

func (s *Server) handleDebugTogglePlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var playing bool
	if s.sess.PlayState() == session.PlayRunning {
		s.sess.StopAutoPlay()
		playing = false
	} else {
		s.sess.StartAutoPlay(context.Background(), func(ctx context.Context) error {
			if s.coord.WouldExceedData(s.sess) {
				return transition.ErrCSVExhausted
			}
			_, err := s.coord.Skip(ctx, s.sess, s.getClient(), time.Now().Unix())
			return err
		})
		playing = true
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "play_mode": playing})
}

func (s *Server) handleDebugState(w http.ResponseWriter, r *http.Request) {
	cur := s.sess.Cursor()
	inst := s.sess.Instrument()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timeframe": s.sess.Timeframe().Name,
		"instrument": map[string]string{
			"symbol":   inst.Symbol,
			"exchange": inst.Exchange,
		},
		"cursor": map[string]interface{}{
			"mode":         string(cur.Mode),
			"anchor_date":  cur.AnchorDate,
			"current_time": cur.CurrentTime,
		},
		"play_mode": s.sess.PlayState() == session.PlayRunning,
		"speed":     s.sess.Speed(),
	})
}

// getClient returns the connected client as a transition.ClientSender, or
// a true nil interface (not a nil-pointer-in-interface) when no client is
// connected — the coordinator's "client != nil" checks rely on that.
func (s *Server) getClient() transition.ClientSender {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	if s.client == nil {
		return nil
	}
	return s.client
}

func (s *Server) setClient(c *broadcaster.Client) {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	s.client = c
}

func (s *Server) clearClient(c *broadcaster.Client) {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	if s.client == c {
		s.client = nil
	}
}

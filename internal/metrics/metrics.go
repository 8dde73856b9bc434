// Package metrics holds the process's Prometheus registrations and a
// /health endpoint, both served by a dedicated HTTP server separate from
// the chart API surface: a Metrics/HealthStatus/Server trio, with
// counters scoped to what this server's components actually emit.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric this server registers.
type Metrics struct {
	TransitionsTotal    *prometheus.CounterVec
	TransitionDur       *prometheus.HistogramVec
	TransitionRollbacks prometheus.Counter
	RecreationsTotal    prometheus.Counter
	SkipOpsTotal        prometheus.Counter
	ValidatorRejected   prometheus.Counter
	ValidatorFallbacks  prometheus.Counter
	WSClientsConnected  prometheus.Gauge
	WSSendBufferDropped prometheus.Counter
	ContaminationGauge  *prometheus.GaugeVec
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replayserver_transitions_total",
			Help: "Total completed transitions, by kind",
		}, []string{"kind"}),
		TransitionDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "replayserver_transition_duration_seconds",
			Help:    "Transition latency from PRE to BROADCAST, by kind",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		TransitionRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replayserver_transition_rollbacks_total",
			Help: "Total transitions rolled back after a LOAD/COMMIT/BROADCAST failure",
		}),
		RecreationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replayserver_chart_recreations_total",
			Help: "Total forced chart series recreations",
		}),
		SkipOpsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replayserver_skip_ops_total",
			Help: "Total Skip operations applied",
		}),
		ValidatorRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replayserver_validator_rejected_total",
			Help: "Total candles rejected by the validator",
		}),
		ValidatorFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replayserver_validator_fallbacks_total",
			Help: "Total synthetic fallback candles emitted",
		}),
		WSClientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replayserver_ws_clients_connected",
			Help: "Currently connected WebSocket clients",
		}),
		WSSendBufferDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replayserver_ws_send_buffer_dropped_total",
			Help: "Total broadcast messages dropped due to a full send buffer",
		}),
		ContaminationGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replayserver_contamination_skip_count",
			Help: "Current skip-event count per timeframe",
		}, []string{"timeframe"}),
	}

	prometheus.MustRegister(
		m.TransitionsTotal,
		m.TransitionDur,
		m.TransitionRollbacks,
		m.RecreationsTotal,
		m.SkipOpsTotal,
		m.ValidatorRejected,
		m.ValidatorFallbacks,
		m.WSClientsConnected,
		m.WSSendBufferDropped,
		m.ContaminationGauge,
	)
	return m
}

// HealthStatus represents the system health, served as JSON at /health.
type HealthStatus struct {
	mu sync.RWMutex

	WSClients  int   `json:"ws_clients"`
	StartedAt  time.Time
	DataLoaded bool `json:"data_loaded"`
}

// NewHealthStatus returns a default health status stamped with the
// current start time.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

// SetWSClients records the current connected-client count.
func (h *HealthStatus) SetWSClients(n int) {
	h.mu.Lock()
	h.WSClients = n
	h.mu.Unlock()
}

// SetDataLoaded records whether at least one timeframe's dataset loaded
// successfully at startup.
func (h *HealthStatus) SetDataLoaded(v bool) {
	h.mu.Lock()
	h.DataLoaded = v
	h.mu.Unlock()
}

// ServeHTTP handles the /health endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	httpCode := http.StatusOK
	if !h.DataLoaded {
		status = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	body := struct {
		Status    string `json:"status"`
		Uptime    string `json:"uptime_sec"`
		WSClients int    `json:"ws_clients"`
	}{
		Status:    status,
		Uptime:    time.Since(h.StartedAt).Round(time.Second).String(),
		WSClients: h.WSClients,
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(body)
}

// Server runs an HTTP server exposing /metrics and /health, separate from
// the main chart API/WS server.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

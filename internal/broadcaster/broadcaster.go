// Package broadcaster owns the single duplex WebSocket channel to a
// connected chart client: a gorilla/websocket connection with a buffered
// send channel, a writePump goroutine writing one WriteMessage frame per
// queued envelope plus a ping ticker, and a readPump goroutine that demultiplexes incoming
// {"type": ...} messages. Messages are never coalesced into one frame —
// every broadcast must stay a single self-contained JSON object, since
// the chart client's parser expects exactly one object per frame.
package broadcaster

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"candlereplay/internal/metrics"
	"candlereplay/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
	readLimit  = 4096
)

// MessageType discriminates duplex channel payloads, per spec §4.7.
type MessageType string

const (
	TypeInitialChartData  MessageType = "initial_chart_data"
	TypeTimeframeChanged  MessageType = "bulletproof_timeframe_changed"
	TypeGoToDateComplete  MessageType = "go_to_date_complete"
	TypeSkipComplete      MessageType = "skip_complete"
	TypeSeriesRecreation  MessageType = "chart_series_recreation"
	TypeEmergencyRecovery MessageType = "emergency_recovery_required"
)

// Envelope is the wire shape for every outbound duplex message. All
// fields are scalars or scalar arrays — non-scalar payloads (tabular
// objects, timestamps-as-objects) are forbidden per spec, since they are
// the observed cause of client-side deserialization failure.
type Envelope struct {
	Type             MessageType    `json:"type"`
	Candles          []model.Candle `json:"candles,omitempty"`
	Timeframe        string         `json:"timeframe,omitempty"`
	TransactionID    string         `json:"transaction_id,omitempty"`
	Contamination    string         `json:"contamination,omitempty"`
	ClearCache       bool           `json:"clear_cache,omitempty"`
	LoadAnchor       int64          `json:"load_anchor,omitempty"`
	TargetDate       string         `json:"target_date,omitempty"`
	VisibleRangeFrom int64          `json:"visible_range_from,omitempty"`
	VisibleRangeTo   int64          `json:"visible_range_to,omitempty"`
	Version          int            `json:"version,omitempty"`
	CursorMode       string         `json:"cursor_mode,omitempty"`
	CursorValue      int64          `json:"cursor_value,omitempty"`
}

// Client wraps one connected chart client's duplex channel.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	logger  *slog.Logger
	metrics *metrics.Metrics

	ackMu   sync.Mutex
	ackCh   chan struct{}
	pending bool
}

// NewClient wraps an already-upgraded websocket connection.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, 64),
		logger: logger,
	}
}

// SetMetrics attaches a Prometheus metrics sink. Optional.
func (c *Client) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// Send enqueues an envelope for delivery, encoding it as a single JSON
// object. Does not wait for the client to drain: when the send buffer is
// full, the oldest queued message is dropped (logged and counted) to make
// room, and the new one is enqueued. The caller is not told about the drop.
func (c *Client) Send(env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case c.send <- b:
		return nil
	default:
		if c.logger != nil {
			c.logger.Warn("broadcaster send buffer full, dropping oldest", "type", env.Type)
		}
		if c.metrics != nil {
			c.metrics.WSSendBufferDropped.Inc()
		}
		select {
		case <-c.send:
		default:
		}
		c.send <- b
		return nil
	}
}

// WaitAck blocks until the client acknowledges a chart_series_recreation
// command, or until timeout elapses. Returns false on timeout — the
// caller proceeds optimistically and schedules emergency recovery.
func (c *Client) WaitAck(timeout time.Duration) bool {
	c.ackMu.Lock()
	ch := make(chan struct{})
	c.ackCh = ch
	c.pending = true
	c.ackMu.Unlock()

	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		c.ackMu.Lock()
		c.pending = false
		c.ackCh = nil
		c.ackMu.Unlock()
		return false
	}
}

func (c *Client) signalAck() {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	if c.pending && c.ackCh != nil {
		close(c.ackCh)
		c.pending = false
		c.ackCh = nil
	}
}

// WritePump flushes queued envelopes and ping frames to the connection.
// Runs until the send channel closes or a write fails; must be started
// in its own goroutine per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump demultiplexes inbound client messages: ack for
// chart_series_recreation, and keepalive pong bookkeeping. Any other
// message is ignored — the client never drives server state outside the
// HTTP surface.
func (c *Client) ReadPump(onClose func()) {
	defer func() {
		if onClose != nil {
			onClose()
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var base struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}
		switch base.Type {
		case "ack":
			c.signalAck()
		case "ping":
			pong, _ := json.Marshal(map[string]string{"type": "pong"})
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}

// Close shuts down the client's send channel, causing WritePump to exit.
func (c *Client) Close() {
	close(c.send)
}

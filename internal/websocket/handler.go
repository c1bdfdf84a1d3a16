package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"collabroom/internal/logging"
	"collabroom/internal/metrics"
	"collabroom/pkg/types"
)

// EventSink receives decoded client events; the hub implements it
type EventSink interface {
	SendMessage(ctx context.Context, connID string, env *types.Envelope) error
	Disconnect(ctx context.Context, connID string) error
}

// Handler upgrades HTTP requests and pumps frames between clients and the hub
type Handler struct {
	registry *Registry
	sink     EventSink
	opts     Options
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewHandler creates a WebSocket handler
func NewHandler(registry *Registry, sink EventSink, opts Options, m *metrics.Metrics, logger *slog.Logger) *Handler {
	defaults := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.ReadTimeout <= opts.PingInterval {
		opts.ReadTimeout = 2 * opts.PingInterval
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaults.MaxMessageBytes
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}

	h := &Handler{
		registry: registry,
		sink:     sink,
		opts:     opts,
		metrics:  m,
		logger:   logging.OrDefault(logger),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

// HandleWebSocket upgrades the request, announces the connection id and starts the pumps.
// Rooms are joined later with a join event, so no query parameters are required.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	wsConn := NewConnection(conn, uuid.NewString(), h.opts)
	if err := h.registry.Register(wsConn); err != nil {
		h.logger.Error("connection registration failed", "connection_id", wsConn.ID(), "error", err)
		_ = wsConn.Close()
		return
	}
	h.metrics.ConnectionOpened()
	h.logger.Info("connection opened", "connection_id", wsConn.ID(), "remote_addr", r.RemoteAddr)

	if err := wsConn.WriteJSON(&types.Outbound{
		Type: types.EventConnected,
		Data: map[string]string{"connectionId": wsConn.ID()},
	}); err != nil {
		h.logger.Warn("failed to announce connection id", "connection_id", wsConn.ID(), "error", err)
	}

	go h.handleConnection(wsConn)
}

// handleConnection runs the heartbeat and read pump until the socket fails
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		// FUNCTIONAL DISCOVERY: The disconnect is queued behind every event this
		// connection already handed to the hub
		if err := h.sink.Disconnect(context.Background(), conn.ID()); err != nil {
			h.logger.Warn("disconnect not delivered to hub", "connection_id", conn.ID(), "error", err)
		}
		h.registry.Unregister(conn)
		_ = conn.Close()
		h.metrics.ConnectionClosed()
		h.logger.Info("connection closed", "connection_id", conn.ID())
	}()

	conn.conn.SetReadLimit(h.opts.MaxMessageBytes)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug("websocket read failed", "connection_id", conn.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			h.logger.Debug("unparseable frame dropped", "connection_id", conn.ID(), "bytes", len(data))
			h.metrics.EventHandled("invalid", metrics.OutcomeMalformed)
			continue
		}

		if err := h.sink.SendMessage(conn.ctx, conn.ID(), &env); err != nil {
			h.logger.Warn("event not delivered to hub", "connection_id", conn.ID(), "event", env.Type, "error", err)
			return
		}
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

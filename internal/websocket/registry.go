package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"collabroom/internal/logging"
	"collabroom/internal/metrics"
	"collabroom/pkg/interfaces"
	"collabroom/pkg/types"
)

// Registry tracks live connections by id and delivers frames to them.
// It is the only state shared between the hub goroutine and connection goroutines.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(m *metrics.Metrics, logger *slog.Logger) *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		metrics:     m,
		logger:      logging.OrDefault(logger),
	}
}

// Register adds a connection under its id
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	return nil
}

// Unregister removes conn if it is still the registered instance. Idempotent.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, exists := r.connections[conn.ID()]; exists && registered == conn {
		delete(r.connections, conn.ID())
	}
}

// Get returns the connection with the given id
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.connections[connID]
	return conn, exists
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Deliver sends one frame to one connection
func (r *Registry) Deliver(connID string, msg *types.Outbound) error {
	conn, exists := r.Get(connID)
	if !exists {
		return interfaces.ErrConnectionNotFound
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return ErrInvalidJSON
	}
	return r.send(conn, msg.Type, data)
}

// Broadcast encodes msg once and queues it on every listed live connection.
// Departed connections are skipped.
func (r *Registry) Broadcast(connIDs []string, msg *types.Outbound) int {
	if len(connIDs) == 0 {
		return 0
	}
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("broadcast encode failed", "event", msg.Type, "error", err)
		return 0
	}

	targets := make([]*Connection, 0, len(connIDs))
	r.mu.RLock()
	for _, id := range connIDs {
		if conn, exists := r.connections[id]; exists {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	queued := 0
	for _, conn := range targets {
		if r.send(conn, msg.Type, data) == nil {
			queued++
		}
	}
	return queued
}

func (r *Registry) send(conn *Connection, event string, data []byte) error {
	err := conn.Send(data)
	if errors.Is(err, ErrSendBufferFull) {
		r.metrics.DeliveryDropped()
		r.logger.Warn("slow consumer closed, send buffer full", "connection_id", conn.ID(), "event", event)
	}
	return err
}

// CloseAll closes every registered connection, used on shutdown
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// GetStats returns registry statistics for monitoring
func (r *Registry) GetStats() map[string]int {
	return map[string]int{
		"total_connections": r.Count(),
	}
}

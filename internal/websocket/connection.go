package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Options tune a single WebSocket connection
type Options struct {
	// SendBuffer is the per-connection outbound queue length
	SendBuffer int

	WriteTimeout time.Duration
	PingInterval time.Duration

	// ReadTimeout must exceed PingInterval; each pong extends it
	ReadTimeout time.Duration

	// MaxMessageBytes bounds a single inbound frame; canvas snapshots are large
	MaxMessageBytes int64

	// AllowedOrigins restricts the upgrade Origin header; empty allows all
	AllowedOrigins []string
}

// DefaultOptions returns the production connection settings
func DefaultOptions() Options {
	return Options{
		SendBuffer:      256,
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		ReadTimeout:     60 * time.Second,
		MaxMessageBytes: 8 << 20,
	}
}

// Connection wraps one client socket
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so every frame
// goes through writeCh to a single writer goroutine
type Connection struct {
	conn         *websocket.Conn
	id           string
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection wraps conn under a server-assigned id and starts its writer
func NewConnection(conn *websocket.Conn, id string, opts Options) *Connection {
	c := newConnection(conn, id, opts)
	go c.writeLoop()
	return c
}

func newConnection(conn *websocket.Conn, id string, opts Options) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultOptions().WriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		conn:         conn,
		id:           id,
		writeCh:      make(chan []byte, opts.SendBuffer),
		writeTimeout: opts.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (c *Connection) writeLoop() {
	defer c.Close()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the server-assigned connection id
func (c *Connection) ID() string {
	return c.id
}

// Send queues an encoded frame without blocking.
// FUNCTIONAL DISCOVERY: A reader that falls a full buffer behind is closed
// rather than left silently out of sync; it rejoins and gets the catch-up state
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		_ = c.Close()
		return ErrSendBufferFull
	}
}

// WriteJSON encodes v and queues it
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.Send(data)
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close stops the writer and closes the socket. Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

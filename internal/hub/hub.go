// Package hub serializes every room event onto one goroutine.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"collabroom/internal/logging"
	"collabroom/pkg/types"
)

// DefaultQueueSize buffers inbound events between read pumps and the hub loop
const DefaultQueueSize = 1000

// Dispatcher applies events to room state. It is only ever called from the hub goroutine.
type Dispatcher interface {
	Dispatch(ctx context.Context, connID string, env *types.Envelope) error
	Disconnect(connID string)
	RoomSummaries() []types.RoomSummary
	RoomDetail(roomID string) (*types.RoomDetail, bool)
}

// inbound is one queued unit of work from a connection
type inbound struct {
	connID     string
	envelope   *types.Envelope
	disconnect bool
}

// Hub runs the dispatch loop
// ARCHITECTURAL DISCOVERY: Events and disconnects share one FIFO channel, so a
// connection's departure is applied after every event it sent before closing
type Hub struct {
	messageChannel  chan *inbound
	inspectChannel  chan func()
	shutdownChannel chan struct{}
	stoppedChannel  chan struct{}

	dispatcher Dispatcher
	logger     *slog.Logger

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub over dispatcher. A queueSize of zero or less uses DefaultQueueSize.
func NewHub(dispatcher Dispatcher, queueSize int, logger *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		messageChannel: make(chan *inbound, queueSize),
		inspectChannel: make(chan func()),
		dispatcher:     dispatcher,
		logger:         logging.OrDefault(logger),
	}
}

// Start launches the hub goroutine
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.stoppedChannel = make(chan struct{})

	h.logger.Info("hub started", "queue_size", cap(h.messageChannel))
	go h.run(ctx, h.shutdownChannel, h.stoppedChannel)
	return nil
}

// Stop ends the hub goroutine and waits for the event in flight to finish
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	stopped := h.stoppedChannel
	h.mu.Unlock()

	<-stopped
	return nil
}

// IsRunning reports whether the hub loop is active
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// SendMessage queues an inbound event from connID.
// TECHNICAL DISCOVERY: Blocking here applies backpressure to the read pump
// instead of silently losing state-changing events
func (h *Hub) SendMessage(ctx context.Context, connID string, env *types.Envelope) error {
	if env == nil {
		return ErrInvalidEnvelope
	}
	return h.enqueue(ctx, &inbound{connID: connID, envelope: env})
}

// Disconnect queues the removal of connID from all rooms
func (h *Hub) Disconnect(ctx context.Context, connID string) error {
	return h.enqueue(ctx, &inbound{connID: connID, disconnect: true})
}

// Inspect runs fn on the hub goroutine and waits for it to return
func (h *Hub) Inspect(ctx context.Context, fn func(Dispatcher)) error {
	shutdown, stopped, err := h.channels()
	if err != nil {
		return err
	}

	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn(h.dispatcher)
	}

	select {
	case h.inspectChannel <- task:
	case <-shutdown:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-stopped:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rooms lists active rooms
func (h *Hub) Rooms(ctx context.Context) ([]types.RoomSummary, error) {
	var rooms []types.RoomSummary
	err := h.Inspect(ctx, func(d Dispatcher) {
		rooms = d.RoomSummaries()
	})
	return rooms, err
}

// Room describes one active room; ok is false if the room is absent
func (h *Hub) Room(ctx context.Context, roomID string) (detail *types.RoomDetail, ok bool, err error) {
	err = h.Inspect(ctx, func(d Dispatcher) {
		detail, ok = d.RoomDetail(roomID)
	})
	return detail, ok, err
}

func (h *Hub) enqueue(ctx context.Context, msg *inbound) error {
	shutdown, _, err := h.channels()
	if err != nil {
		return err
	}

	select {
	case h.messageChannel <- msg:
		return nil
	case <-shutdown:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) channels() (shutdown, stopped chan struct{}, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return nil, nil, ErrHubNotRunning
	}
	return h.shutdownChannel, h.stoppedChannel, nil
}

// run is the only goroutine that touches room state
func (h *Hub) run(ctx context.Context, shutdown, stopped chan struct{}) {
	defer close(stopped)
	defer h.logger.Info("hub stopped")

	for {
		select {
		case msg := <-h.messageChannel:
			h.handle(ctx, msg)

		case task := <-h.inspectChannel:
			task()

		case <-shutdown:
			return

		case <-ctx.Done():
			h.mu.Lock()
			if h.running && h.shutdownChannel == shutdown {
				h.running = false
				close(shutdown)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) handle(ctx context.Context, msg *inbound) {
	if msg.disconnect {
		h.dispatcher.Disconnect(msg.connID)
		h.logger.Debug("connection left all rooms", "connection_id", msg.connID)
		return
	}

	// FUNCTIONAL DISCOVERY: Dispatch errors are never sent back to the sender;
	// a dropped event looks exactly like one that changed nothing
	if err := h.dispatcher.Dispatch(ctx, msg.connID, msg.envelope); err != nil {
		h.logger.Debug("event dropped",
			"connection_id", msg.connID,
			"event", msg.envelope.Type,
			"error", err)
	}
}

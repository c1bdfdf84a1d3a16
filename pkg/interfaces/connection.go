package interfaces

// Connection represents one live client session on the transport
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// keeps the dispatcher independent of WebSocket specifics
type Connection interface {
	// ID returns the server-assigned connection id
	ID() string

	// Send queues an already encoded frame without blocking.
	// Implementations must serialize writes through a single writer.
	Send(data []byte) error

	// WriteJSON encodes v and queues it like Send
	WriteJSON(v interface{}) error

	// Close closes the connection and releases its writer
	Close() error
}

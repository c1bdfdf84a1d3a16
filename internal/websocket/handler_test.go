package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"collabroom/internal/logging"
	"collabroom/pkg/types"
)

// recordingSink stands in for the hub
type recordingSink struct {
	mu          sync.Mutex
	events      []string
	disconnects []string
	received    chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{received: make(chan struct{}, 16)}
}

func (s *recordingSink) SendMessage(ctx context.Context, connID string, env *types.Envelope) error {
	s.mu.Lock()
	s.events = append(s.events, env.Type)
	s.mu.Unlock()
	s.received <- struct{}{}
	return nil
}

func (s *recordingSink) Disconnect(ctx context.Context, connID string) error {
	s.mu.Lock()
	s.disconnects = append(s.disconnects, connID)
	s.mu.Unlock()
	s.received <- struct{}{}
	return nil
}

func (s *recordingSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.received:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the handler to reach the sink")
	}
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *Registry, *recordingSink) {
	t.Helper()
	registry := NewRegistry(nil, logging.Discard())
	sink := newRecordingSink()
	handler := NewHandler(registry, sink, opts, nil, logging.Discard())
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, registry, sink
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return conn
}

func TestHandler_AnnouncesConnectionID(t *testing.T) {
	server, registry, _ := newTestServer(t, DefaultOptions())
	client := dial(t, server)
	defer client.Close()

	var frame struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := client.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if frame.Type != types.EventConnected || frame.Data["connectionId"] == "" {
		t.Fatalf("Expected connected frame with an id, got %+v", frame)
	}
	if _, ok := registry.Get(frame.Data["connectionId"]); !ok {
		t.Error("Announced connection should be registered")
	}
}

func TestHandler_ForwardsEventsAndDisconnect(t *testing.T) {
	server, registry, sink := newTestServer(t, DefaultOptions())
	client := dial(t, server)

	var connected types.Envelope
	client.ReadJSON(&connected)

	// Garbage frames are dropped before the hub
	client.WriteMessage(websocket.TextMessage, []byte("not json"))
	client.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`))
	client.WriteJSON(map[string]interface{}{"type": types.EventJoin, "data": map[string]string{"roomId": "r1"}})
	sink.wait(t)

	client.Close()
	sink.wait(t)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 1 || sink.events[0] != types.EventJoin {
		t.Errorf("Expected only the join event, got %v", sink.events)
	}
	if len(sink.disconnects) != 1 {
		t.Errorf("Expected one disconnect, got %v", sink.disconnects)
	}

	deadline := time.Now().Add(time.Second)
	for registry.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if registry.Count() != 0 {
		t.Error("Closed connection should be unregistered")
	}
}

func TestHandler_RejectsDisallowedOrigin(t *testing.T) {
	opts := DefaultOptions()
	opts.AllowedOrigins = []string{"https://rooms.example.com"}
	server, _, _ := newTestServer(t, opts)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	if _, resp, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Error("Expected upgrade to fail for a foreign origin")
	} else if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", resp.StatusCode)
	}

	header = http.Header{"Origin": []string{"https://rooms.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Allowed origin should connect: %v", err)
	}
	conn.Close()
}

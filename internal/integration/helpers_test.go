package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"collabroom/internal/app"
	"collabroom/internal/config"
	"collabroom/internal/logging"
	"collabroom/pkg/types"
)

const frameTimeout = 5 * time.Second

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

// startServer runs a full application on an ephemeral port with a temp journal
func startServer(t *testing.T, modify func(*config.Config)) string {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.Database.RetryDelay = 0
	cfg.Auth.Secret = "integration-secret"
	if modify != nil {
		modify(cfg)
	}

	application, err := app.NewApplication(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("Failed to build application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Logf("Application stop: %v", err)
		}
	})
	return application.Addr()
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	client := &testClient{t: t, conn: conn}
	var connected struct {
		ConnectionID string `json:"connectionId"`
	}
	client.expect("connected", &connected)
	if connected.ConnectionID == "" {
		t.Fatal("connected frame carried no connection id")
	}
	client.id = connected.ConnectionID
	return client
}

func (c *testClient) send(eventType string, data interface{}) {
	c.t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.conn.WriteJSON(frame{Type: eventType, Data: payload}); err != nil {
		c.t.Fatalf("Failed to send %s: %v", eventType, err)
	}
}

func (c *testClient) next() frame {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(frameTimeout))
	var f frame
	if err := c.conn.ReadJSON(&f); err != nil {
		c.t.Fatalf("Failed to read frame: %v", err)
	}
	return f
}

// expect reads the next frame, requires its type and decodes its data into v
func (c *testClient) expect(eventType string, v interface{}) {
	c.t.Helper()
	f := c.next()
	if f.Type != eventType {
		c.t.Fatalf("Expected %s frame, got %s: %s", eventType, f.Type, f.Data)
	}
	if v != nil {
		if err := json.Unmarshal(f.Data, v); err != nil {
			c.t.Fatalf("Failed to decode %s data: %v", eventType, err)
		}
	}
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if v != nil && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("Failed to decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

// waitForRoom polls the room detail endpoint until ready reports true
func waitForRoom(t *testing.T, addr, roomID string, ready func(types.RoomDetail) bool) {
	t.Helper()
	deadline := time.Now().Add(frameTimeout)
	for {
		var detail types.RoomDetail
		if getJSON(t, "http://"+addr+"/api/rooms/"+roomID, &detail) == http.StatusOK && ready(detail) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Room %s never reached the expected state", roomID)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

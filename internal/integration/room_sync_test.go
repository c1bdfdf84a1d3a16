package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"

	"collabroom/internal/api"
	"collabroom/internal/auth"
	"collabroom/internal/config"
	"collabroom/pkg/types"
)

type joinedData struct {
	Clients      []types.Member `json:"clients"`
	Username     string         `json:"username"`
	ConnectionID string         `json:"connectionId"`
	UserProfile  *types.Profile `json:"userProfile"`
}

type canvasData struct {
	History []string `json:"history"`
	Step    int      `json:"step"`
	Kind    string   `json:"kind"`
	ImgData string   `json:"imgData"`
}

func TestRoomSync_EndToEnd(t *testing.T) {
	addr := startServer(t, nil)

	token, err := auth.NewVerifier("integration-secret", time.Hour, clock.WallClock).
		Issue(&types.Profile{ID: "u-ada", Name: "Ada Lovelace", Email: "ada@example.com"})
	if err != nil {
		t.Fatal(err)
	}

	alice := dial(t, addr)
	alice.send(types.EventJoin, map[string]interface{}{"roomId": "r1", "username": "ignored", "token": token})

	var joined joinedData
	alice.expect(types.EventJoined, &joined)
	if joined.ConnectionID != alice.id || len(joined.Clients) != 1 {
		t.Fatalf("Unexpected first joined frame %+v", joined)
	}
	if joined.UserProfile == nil || joined.UserProfile.ID != "u-ada" {
		t.Errorf("Token profile should win, got %+v", joined.UserProfile)
	}
	if joined.Username != "Ada Lovelace" {
		t.Errorf("Display name should come from the verified profile, got %q", joined.Username)
	}

	alice.send(types.EventCodeChange, map[string]interface{}{"roomId": "r1", "code": "print(1)"})
	alice.send(types.EventCanvasState, map[string]interface{}{"roomId": "r1", "imgData": "img1"})
	alice.send(types.EventCanvasState, map[string]interface{}{"roomId": "r1", "imgData": "img2"})
	alice.send(types.EventCursorPosition, map[string]interface{}{
		"roomId":   "r1",
		"position": map[string]int{"line": 3, "ch": 1},
	})

	// Alice's events travel on her own socket; wait until the hub has applied them
	waitForRoom(t, addr, "r1", func(d types.RoomDetail) bool {
		return d.CanvasEntries == 2 && d.Cursors == 1 && d.HasCode
	})

	// Newcomer catch-up: canvas, code, cursors, then joined
	bob := dial(t, addr)
	bob.send(types.EventJoin, map[string]interface{}{"roomId": "r1", "username": "bob"})

	var canvas canvasData
	bob.expect(types.EventCanvasState, &canvas)
	if len(canvas.History) != 2 || canvas.Step != 1 || canvas.Kind != types.CanvasKindState {
		t.Errorf("Expected [img1 img2]@1 state, got %+v", canvas)
	}
	var code map[string]string
	bob.expect(types.EventCodeChange, &code)
	if code["code"] != "print(1)" {
		t.Errorf("Expected catch-up code, got %v", code)
	}
	var cursors map[string]types.CursorEntry
	bob.expect(types.EventCursorStates, &cursors)
	if entry, ok := cursors[alice.id]; !ok || entry.Position.Line != 3 {
		t.Errorf("Expected alice's cursor in snapshot, got %+v", cursors)
	}
	bob.expect(types.EventJoined, &joined)
	if len(joined.Clients) != 2 || joined.Clients[0].ConnectionID != alice.id {
		t.Errorf("Members should be listed in join order, got %+v", joined.Clients)
	}

	alice.expect(types.EventJoined, &joined)
	if joined.ConnectionID != bob.id || joined.Username != "bob" {
		t.Errorf("Alice should see bob join, got %+v", joined)
	}

	// code-change is not echoed: alice's next frame is bob's cursor
	alice.send(types.EventCodeChange, map[string]interface{}{"roomId": "r1", "code": "print(2)"})
	bob.expect(types.EventCodeChange, &code)
	if code["code"] != "print(2)" {
		t.Errorf("Expected live code, got %v", code)
	}
	bob.send(types.EventCursorPosition, map[string]interface{}{
		"roomId":    "r1",
		"position":  map[string]int{"line": 1, "ch": 1},
		"selection": map[string]interface{}{"from": map[string]int{"line": 1, "ch": 1}, "to": map[string]int{"line": 1, "ch": 1}},
	})
	var cursor types.CursorEntry
	alice.expect(types.EventCursorPosition, &cursor)
	if cursor.ConnectionID != bob.id || cursor.Selection != nil {
		t.Errorf("Expected bob's cursor with a collapsed selection normalized away, got %+v", cursor)
	}

	// Undo goes to every member, the sender included
	alice.send(types.EventCanvasUndo, map[string]interface{}{"roomId": "r1"})
	alice.expect(types.EventCanvasState, &canvas)
	if canvas.Step != 0 || canvas.Kind != types.CanvasKindUndo {
		t.Errorf("Expected undo to step 0, got %+v", canvas)
	}
	bob.expect(types.EventCanvasState, &canvas)
	if canvas.Step != 0 || len(canvas.History) != 2 {
		t.Errorf("Bob should see the same undo, got %+v", canvas)
	}

	var detail types.RoomDetail
	if status := getJSON(t, "http://"+addr+"/api/rooms/r1", &detail); status != http.StatusOK {
		t.Fatalf("Expected room detail, got %d", status)
	}
	if len(detail.Members) != 2 || detail.CodeLength != len("print(2)") || detail.CanvasStep != 0 {
		t.Errorf("Unexpected room detail %+v", detail)
	}

	// Bob leaves: alice is told, and the room state is purged for her
	_ = bob.conn.Close()

	var departed map[string]string
	alice.expect(types.EventDisconnected, &departed)
	if departed["connectionId"] != bob.id {
		t.Errorf("Expected bob's departure, got %v", departed)
	}
	alice.expect(types.EventCursorLeave, &departed)

	if status := getJSON(t, "http://"+addr+"/api/rooms/r1", &detail); status != http.StatusOK {
		t.Fatalf("Room should still exist with alice in it, got %d", status)
	}
	if detail.CodeLength != 0 || detail.CanvasEntries != 0 || detail.CanvasStep != -1 || detail.Cursors != 0 {
		t.Errorf("Room state should be purged, got %+v", detail)
	}

	// The journal is written asynchronously
	deadline := time.Now().Add(frameTimeout)
	var activity api.ActivityResponse
	for {
		getJSON(t, "http://"+addr+"/api/rooms/r1/activity", &activity)
		if len(activity.Activities) >= 5 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	kinds := map[string]int{}
	for _, a := range activity.Activities {
		kinds[a.Kind]++
	}
	if kinds[types.ActivityRoomOpened] != 1 || kinds[types.ActivityMemberJoined] != 2 ||
		kinds[types.ActivityMemberLeft] != 1 || kinds[types.ActivityRoomPurged] != 1 {
		t.Errorf("Unexpected journal contents %v", kinds)
	}
}

func TestRoomSync_MalformedEventsAreDropped(t *testing.T) {
	addr := startServer(t, func(cfg *config.Config) { cfg.Database.Enabled = false })

	client := dial(t, addr)
	if err := client.conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	client.send("no-such-event", map[string]string{"roomId": "r"})
	client.send(types.EventCodeChange, map[string]interface{}{"roomId": "r"})
	client.send(types.EventJoin, map[string]interface{}{"username": "no room"})

	// The connection survives and later events still work
	client.send(types.EventJoin, map[string]interface{}{"roomId": "r2", "username": "carol"})
	var joined joinedData
	client.expect(types.EventJoined, &joined)
	if joined.Username != "carol" {
		t.Errorf("Expected carol to join, got %+v", joined)
	}

	if status := getJSON(t, "http://"+addr+"/api/rooms/r2/activity", nil); status != http.StatusServiceUnavailable {
		t.Errorf("Activity should be unavailable with the journal off, got %d", status)
	}
}

func TestRoomSync_RoomClosesWhenEmpty(t *testing.T) {
	addr := startServer(t, nil)

	client := dial(t, addr)
	client.send(types.EventJoin, map[string]interface{}{"roomId": "solo", "username": "dora"})
	client.expect(types.EventJoined, nil)
	client.send(types.EventLeave, map[string]interface{}{"roomId": "solo"})

	deadline := time.Now().Add(frameTimeout)
	for {
		status := getJSON(t, "http://"+addr+"/api/rooms/solo", nil)
		if status == http.StatusNotFound {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Room should be absent after its last member leaves, status %d", status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	var rooms api.RoomsResponse
	getJSON(t, "http://"+addr+"/api/rooms", &rooms)
	if len(rooms.Rooms) != 0 {
		t.Errorf("Expected no active rooms, got %+v", rooms.Rooms)
	}
}

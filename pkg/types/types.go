package types

import (
	"encoding/json"
	"time"
)

// Inbound event kinds accepted from clients
const (
	EventJoin            = "join"
	EventLeave           = "leave"
	EventCodeChange      = "code-change"
	EventSyncCode        = "sync-code"
	EventCursorPosition  = "cursor-position"
	EventCursorSelection = "cursor-selection"
	EventCanvasDraw      = "canvas-draw"
	EventCanvasState     = "canvas-state"
	EventCanvasClear     = "canvas-clear"
	EventCanvasUndo      = "canvas-undo"
	EventCanvasRedo      = "canvas-redo"
)

// Outbound event kinds. Several inbound kinds are echoed under the same name.
const (
	EventConnected    = "connected"
	EventJoined       = "joined"
	EventDisconnected = "disconnected"
	EventCursorStates = "cursor-states"
	EventCursorLeave  = "cursor-leave"
)

// Canvas state kinds carried on canvas-state broadcasts
const (
	CanvasKindState = "state"
	CanvasKindPush  = "push"
	CanvasKindUndo  = "undo"
	CanvasKindRedo  = "redo"
)

// Envelope is the wire frame for every client message in both directions.
// ARCHITECTURAL DISCOVERY: Data stays raw until the router knows the kind,
// so each payload is decoded exactly once at ingress.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is a server-built frame; Data is marshaled by the transport.
type Outbound struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Profile is the opaque identity supplied by the auth collaborator.
type Profile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture,omitempty"`
}

// Identity is what the presence registry remembers about a live connection.
type Identity struct {
	DisplayName string
	Profile     *Profile
}

// Member is one entry of a room member list.
type Member struct {
	ConnectionID string   `json:"connectionId"`
	Username     string   `json:"username"`
	Profile      *Profile `json:"profile"`
}

// Position is a line/column pair in the shared editor.
type Position struct {
	Line int `json:"line"`
	Ch   int `json:"ch"`
}

// Selection is a highlighted range. A range with From == To is not a selection.
type Selection struct {
	From Position `json:"from"`
	To   Position `json:"to"`
}

// CursorEntry is the last known cursor of one connection in one room.
type CursorEntry struct {
	ConnectionID string     `json:"connectionId"`
	Username     string     `json:"username"`
	Position     Position   `json:"position"`
	Selection    *Selection `json:"selection"`
	Timestamp    int64      `json:"timestamp"`
}

// CanvasState is the undo stack of a room canvas.
// Step is -1 exactly when History is empty.
type CanvasState struct {
	History []string `json:"history"`
	Step    int      `json:"step"`
}

// RoomSummary is the API view of an active room.
type RoomSummary struct {
	RoomID      string `json:"roomId"`
	MemberCount int    `json:"memberCount"`
}

// RoomDetail is the API view of a single room's synchronized state.
type RoomDetail struct {
	RoomID        string   `json:"roomId"`
	Members       []Member `json:"members"`
	HasCode       bool     `json:"hasCode"`
	CodeLength    int      `json:"codeLength"`
	CanvasEntries int      `json:"canvasEntries"`
	CanvasStep    int      `json:"canvasStep"`
	Cursors       int      `json:"cursors"`
}

// Activity kinds written to the room journal
const (
	ActivityRoomOpened   = "room_opened"
	ActivityRoomClosed   = "room_closed"
	ActivityRoomPurged   = "room_purged"
	ActivityMemberJoined = "member_joined"
	ActivityMemberLeft   = "member_left"
)

// Activity is one room lifecycle record.
type Activity struct {
	ID           string    `json:"id" db:"id"`
	RoomID       string    `json:"roomId" db:"room_id"`
	Kind         string    `json:"kind" db:"kind"`
	ConnectionID string    `json:"connectionId,omitempty" db:"connection_id"`
	DisplayName  string    `json:"displayName,omitempty" db:"display_name"`
	MemberCount  int       `json:"memberCount" db:"member_count"`
	OccurredAt   time.Time `json:"occurredAt" db:"occurred_at"`
}

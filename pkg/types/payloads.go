package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JoinPayload is sent by a client entering a room.
type JoinPayload struct {
	RoomID      string   `json:"roomId"`
	Username    string   `json:"username"`
	UserProfile *Profile `json:"userProfile,omitempty"`
	Token       string   `json:"token,omitempty"`
}

// RoomPayload carries only a room reference (leave, canvas-clear, canvas-undo, canvas-redo).
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// CodeChangePayload is a full-text overwrite of the room editor.
type CodeChangePayload struct {
	RoomID string  `json:"roomId"`
	Code   *string `json:"code"`
}

// SyncCodePayload asks the server to hand code to one named connection.
type SyncCodePayload struct {
	RoomID       string  `json:"roomId"`
	ConnectionID string  `json:"connectionId"`
	Code         *string `json:"code"`
}

// CursorPositionPayload reports the sender's caret and optional selection.
type CursorPositionPayload struct {
	RoomID    string     `json:"roomId"`
	Position  *Position  `json:"position"`
	Selection *Selection `json:"selection"`
}

// CursorSelectionPayload reports a selection change without a caret move.
type CursorSelectionPayload struct {
	RoomID    string     `json:"roomId"`
	Selection *Selection `json:"selection"`
}

// CanvasStatePayload is the tagged variant decoded from a canvas-state event:
// either *StructuredCanvasState or *LegacyCanvasState.
type CanvasStatePayload interface {
	canvasRoom() string
}

// StructuredCanvasState replaces the stored history wholesale.
type StructuredCanvasState struct {
	RoomID  string
	History []string
	Step    int
	Kind    string
}

func (s *StructuredCanvasState) canvasRoom() string { return s.RoomID }

// LegacyCanvasState carries a single snapshot that is appended to the stored history.
type LegacyCanvasState struct {
	RoomID string
	Image  string
}

func (l *LegacyCanvasState) canvasRoom() string { return l.RoomID }

// canvasStateWire is the union of both wire shapes.
type canvasStateWire struct {
	RoomID  string          `json:"roomId"`
	History json.RawMessage `json:"history"`
	Step    json.RawMessage `json:"step"`
	ImgData json.RawMessage `json:"imgData"`
	Kind    string          `json:"kind"`
}

// Decode unmarshals an event payload, reporting any shape problem as ErrMalformedPayload.
func Decode(data json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return ErrMalformedPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// DecodeCanvasState resolves a canvas-state payload into its variant.
// The structured shape wins whenever history is an array and step is a number;
// otherwise a string imgData selects the legacy shape.
func DecodeCanvasState(data json.RawMessage) (CanvasStatePayload, error) {
	var wire canvasStateWire
	if err := Decode(data, &wire); err != nil {
		return nil, err
	}
	if wire.RoomID == "" {
		return nil, ErrMissingRoomID
	}

	if structured, ok := decodeStructured(&wire); ok {
		return structured, nil
	}

	var image string
	if isJSONString(wire.ImgData) && json.Unmarshal(wire.ImgData, &image) == nil {
		return &LegacyCanvasState{RoomID: wire.RoomID, Image: image}, nil
	}

	return nil, fmt.Errorf("%w: canvas-state needs history+step or imgData", ErrMalformedPayload)
}

func decodeStructured(wire *canvasStateWire) (*StructuredCanvasState, bool) {
	if !isJSONArray(wire.History) {
		return nil, false
	}
	var step float64
	if !isJSONNumber(wire.Step) || json.Unmarshal(wire.Step, &step) != nil {
		return nil, false
	}
	var history []string
	if err := json.Unmarshal(wire.History, &history); err != nil {
		return nil, false
	}
	kind := wire.Kind
	if kind == "" {
		kind = CanvasKindState
	}
	return &StructuredCanvasState{
		RoomID:  wire.RoomID,
		History: history,
		Step:    clampStep(step, len(history)),
		Kind:    kind,
	}, true
}

// clampStep bounds step to the history while it is still a float; converting an
// out-of-range float64 to int is implementation-defined.
func clampStep(step float64, length int) int {
	if length == 0 {
		return -1
	}
	if step < 0 {
		return 0
	}
	if step >= float64(length) {
		return length - 1
	}
	return int(step)
}

// json.Unmarshal accepts null for any type, so the leading byte decides the JSON kind.
func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func isJSONArray(raw json.RawMessage) bool {
	return firstByte(raw) == '['
}

func isJSONString(raw json.RawMessage) bool {
	return firstByte(raw) == '"'
}

func isJSONNumber(raw json.RawMessage) bool {
	b := firstByte(raw)
	return b == '-' || (b >= '0' && b <= '9')
}

// DecodeStroke splits a canvas-draw payload into its room and the stroke fields to relay.
func DecodeStroke(data json.RawMessage) (string, map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := Decode(data, &fields); err != nil {
		return "", nil, err
	}
	var roomID string
	if raw, ok := fields["roomId"]; ok {
		if err := json.Unmarshal(raw, &roomID); err != nil {
			return "", nil, fmt.Errorf("%w: roomId must be a string", ErrMalformedPayload)
		}
	}
	if roomID == "" {
		return "", nil, ErrMissingRoomID
	}
	delete(fields, "roomId")
	return roomID, fields, nil
}

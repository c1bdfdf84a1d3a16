package state

import (
	"github.com/juju/clock"

	"collabroom/pkg/types"
)

// CursorStore keeps the last cursor of each connection in each room
type CursorStore struct {
	cursors map[string]map[string]*types.CursorEntry // roomID -> connectionID -> entry
	clock   clock.Clock
}

// NewCursorStore creates an empty cursor store stamping entries from clk.
// A nil clock means the wall clock.
func NewCursorStore(clk clock.Clock) *CursorStore {
	if clk == nil {
		clk = clock.WallClock
	}
	return &CursorStore{
		cursors: make(map[string]map[string]*types.CursorEntry),
		clock:   clk,
	}
}

// UpsertPosition records the caret and selection of a connection.
// An empty selection is stored as nil.
func (s *CursorStore) UpsertPosition(roomID, connID, username string, position types.Position, selection *types.Selection) types.CursorEntry {
	room, exists := s.cursors[roomID]
	if !exists {
		room = make(map[string]*types.CursorEntry)
		s.cursors[roomID] = room
	}
	entry := &types.CursorEntry{
		ConnectionID: connID,
		Username:     username,
		Position:     position,
		Selection:    types.NormalizeSelection(selection),
		Timestamp:    s.clock.Now().UnixMilli(),
	}
	room[connID] = entry
	return copyEntry(entry)
}

// UpsertSelection changes the selection of an existing entry only
func (s *CursorStore) UpsertSelection(roomID, connID string, selection *types.Selection) (types.CursorEntry, bool) {
	entry, exists := s.cursors[roomID][connID]
	if !exists {
		return types.CursorEntry{}, false
	}
	entry.Selection = types.NormalizeSelection(selection)
	entry.Timestamp = s.clock.Now().UnixMilli()
	return copyEntry(entry), true
}

// Remove drops one connection's cursor and reports whether it existed
func (s *CursorStore) Remove(roomID, connID string) bool {
	room, exists := s.cursors[roomID]
	if !exists {
		return false
	}
	if _, exists := room[connID]; !exists {
		return false
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(s.cursors, roomID)
	}
	return true
}

// Snapshot returns a copy of every cursor in a room
func (s *CursorStore) Snapshot(roomID string) map[string]types.CursorEntry {
	room := s.cursors[roomID]
	snapshot := make(map[string]types.CursorEntry, len(room))
	for connID, entry := range room {
		snapshot[connID] = copyEntry(entry)
	}
	return snapshot
}

// Delete drops every cursor in a room
func (s *CursorStore) Delete(roomID string) {
	delete(s.cursors, roomID)
}

func copyEntry(entry *types.CursorEntry) types.CursorEntry {
	copied := *entry
	if entry.Selection != nil {
		sel := *entry.Selection
		copied.Selection = &sel
	}
	return copied
}

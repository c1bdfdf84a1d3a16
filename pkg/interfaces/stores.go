package interfaces

import "collabroom/pkg/types"

// Room state stores. Implementations are used from the hub goroutine only,
// so the in-memory versions carry no locks. A shared key-value backend can
// sit behind the same methods without changing the dispatch table.

// CodeStore keeps the last-known editor text of each room.
type CodeStore interface {
	// Set overwrites the room text and returns what was stored
	Set(roomID, code string) string
	Get(roomID string) (string, bool)
	Delete(roomID string)
}

// CanvasStore keeps the linear undo stack of each room canvas.
type CanvasStore interface {
	// Push truncates everything after the cursor, appends snapshot and returns the new step
	Push(roomID, snapshot string) int

	// Undo moves the cursor back one entry; ok is false at the start or for an absent room
	Undo(roomID string) (snapshot string, step int, ok bool)

	// Redo moves the cursor forward one entry; ok is false at the end or for an absent room
	Redo(roomID string) (snapshot string, step int, ok bool)

	// Replace stores a client-computed history verbatim, clamping step, and returns the stored step
	Replace(roomID string, history []string, step int) int

	// Get returns a copy of the room canvas state
	Get(roomID string) (*types.CanvasState, bool)
	Delete(roomID string)
}

// CursorStore keeps the last cursor of each connection per room.
type CursorStore interface {
	UpsertPosition(roomID, connID, username string, position types.Position, selection *types.Selection) types.CursorEntry

	// UpsertSelection only updates an existing entry; ok is false when there is none
	UpsertSelection(roomID, connID string, selection *types.Selection) (types.CursorEntry, bool)

	Remove(roomID, connID string) bool
	Snapshot(roomID string) map[string]types.CursorEntry
	Delete(roomID string)
}

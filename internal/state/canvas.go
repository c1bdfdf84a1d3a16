package state

import "collabroom/pkg/types"

// CanvasStore keeps a linear undo stack per room.
// Invariant: -1 <= step < len(history), and step is -1 exactly when history is empty.
type CanvasStore struct {
	canvases map[string]*types.CanvasState
}

// NewCanvasStore creates an empty canvas store
func NewCanvasStore() *CanvasStore {
	return &CanvasStore{canvases: make(map[string]*types.CanvasState)}
}

// Push discards the redo tail, appends snapshot and returns the new step
func (s *CanvasStore) Push(roomID, snapshot string) int {
	canvas, exists := s.canvases[roomID]
	if !exists {
		canvas = &types.CanvasState{Step: -1}
		s.canvases[roomID] = canvas
	}
	canvas.History = append(canvas.History[:canvas.Step+1], snapshot)
	canvas.Step = len(canvas.History) - 1
	return canvas.Step
}

// Undo moves the cursor back one entry
func (s *CanvasStore) Undo(roomID string) (string, int, bool) {
	canvas, exists := s.canvases[roomID]
	if !exists || canvas.Step <= 0 {
		return "", 0, false
	}
	canvas.Step--
	return canvas.History[canvas.Step], canvas.Step, true
}

// Redo moves the cursor forward one entry
func (s *CanvasStore) Redo(roomID string) (string, int, bool) {
	canvas, exists := s.canvases[roomID]
	if !exists || canvas.Step >= len(canvas.History)-1 {
		return "", 0, false
	}
	canvas.Step++
	return canvas.History[canvas.Step], canvas.Step, true
}

// Replace stores a client-supplied history, clamping step into range.
// The stored step is returned so callers broadcast what was kept.
func (s *CanvasStore) Replace(roomID string, history []string, step int) int {
	copied := make([]string, len(history))
	copy(copied, history)

	switch {
	case len(copied) == 0:
		step = -1
	case step < 0:
		step = 0
	case step >= len(copied):
		step = len(copied) - 1
	}

	s.canvases[roomID] = &types.CanvasState{History: copied, Step: step}
	return step
}

// Get returns a copy of the room canvas
func (s *CanvasStore) Get(roomID string) (*types.CanvasState, bool) {
	canvas, exists := s.canvases[roomID]
	if !exists {
		return nil, false
	}
	history := make([]string, len(canvas.History))
	copy(history, canvas.History)
	return &types.CanvasState{History: history, Step: canvas.Step}, true
}

// Delete drops the room history
func (s *CanvasStore) Delete(roomID string) {
	delete(s.canvases, roomID)
}

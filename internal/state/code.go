// Package state holds the authoritative in-memory room state: editor text,
// canvas history and cursors. Stores are used from the hub goroutine only.
package state

// CodeStore keeps the last full text sent for each room
type CodeStore struct {
	code map[string]string
}

// NewCodeStore creates an empty code store
func NewCodeStore() *CodeStore {
	return &CodeStore{code: make(map[string]string)}
}

// Set overwrites the room text. Last writer wins.
func (s *CodeStore) Set(roomID, code string) string {
	s.code[roomID] = code
	return code
}

// Get returns the room text; an empty string is a present value
func (s *CodeStore) Get(roomID string) (string, bool) {
	code, ok := s.code[roomID]
	return code, ok
}

// Delete forgets the room text
func (s *CodeStore) Delete(roomID string) {
	delete(s.code, roomID)
}

// Len returns the number of rooms with stored text
func (s *CodeStore) Len() int {
	return len(s.code)
}

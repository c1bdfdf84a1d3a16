package types

import (
	"strings"
	"unicode/utf8"
)

const (
	maxRoomIDLength      = 200
	maxDisplayNameLength = 100

	// DefaultDisplayName is used when a joiner supplies neither a username nor a profile name.
	DefaultDisplayName = "Anonymous"
)

// IsValidRoomID checks the free-form room token: non-empty, bounded, no control characters.
func IsValidRoomID(roomID string) bool {
	if roomID == "" || len(roomID) > maxRoomIDLength || !utf8.ValidString(roomID) {
		return false
	}
	for _, r := range roomID {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// ResolveDisplayName picks the name shown to other members.
// Collisions between members are allowed.
func ResolveDisplayName(username string, profile *Profile) string {
	name := strings.TrimSpace(username)
	if name == "" && profile != nil {
		name = strings.TrimSpace(profile.Name)
	}
	if name == "" {
		return DefaultDisplayName
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		name = string([]rune(name)[:maxDisplayNameLength])
	}
	return name
}

// Validate checks the join payload before any store is touched.
func (p *JoinPayload) Validate() error {
	if p.RoomID == "" {
		return ErrMissingRoomID
	}
	if !IsValidRoomID(p.RoomID) {
		return ErrInvalidRoomID
	}
	return nil
}

// IsEmpty reports whether the selection covers no characters.
func (s *Selection) IsEmpty() bool {
	return s == nil || s.From == s.To
}

// NormalizeSelection maps a degenerate range to nil so that no phantom highlight is stored or relayed.
func NormalizeSelection(sel *Selection) *Selection {
	if sel.IsEmpty() {
		return nil
	}
	normalized := *sel
	return &normalized
}

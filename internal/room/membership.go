// Package room tracks which connections belong to which room.
package room

import (
	"sort"

	"collabroom/internal/presence"
	"collabroom/pkg/types"
)

// Membership maps rooms to their member connections.
// A room is active exactly while it has at least one member; the last
// departure removes it. Used from the hub goroutine only.
type Membership struct {
	presence *presence.Registry
	rooms    map[string]map[string]uint64   // roomID -> connectionID -> join sequence
	byConn   map[string]map[string]struct{} // connectionID -> roomIDs
	seq      uint64
}

// NewMembership creates membership tracking backed by the presence registry
func NewMembership(registry *presence.Registry) *Membership {
	return &Membership{
		presence: registry,
		rooms:    make(map[string]map[string]uint64),
		byConn:   make(map[string]map[string]struct{}),
	}
}

// Join adds connID to roomID and returns the full member list.
// opened reports whether this join brought the room into existence.
// Joining a room twice keeps the original join position.
func (m *Membership) Join(connID, roomID string) (members []types.Member, opened bool) {
	members0, exists := m.rooms[roomID]
	if !exists {
		members0 = make(map[string]uint64)
		m.rooms[roomID] = members0
		opened = true
	}
	if _, already := members0[connID]; !already {
		m.seq++
		members0[connID] = m.seq
	}

	rooms, exists := m.byConn[connID]
	if !exists {
		rooms = make(map[string]struct{})
		m.byConn[connID] = rooms
	}
	rooms[roomID] = struct{}{}

	return m.ListMembers(roomID), opened
}

// ListMembers resolves every member of a room through the presence registry, in join order
func (m *Membership) ListMembers(roomID string) []types.Member {
	ids := m.MemberIDs(roomID)
	members := make([]types.Member, 0, len(ids))
	for _, id := range ids {
		member := types.Member{ConnectionID: id}
		if identity, ok := m.presence.Get(id); ok {
			member.Username = identity.DisplayName
			member.Profile = identity.Profile
		}
		members = append(members, member)
	}
	return members
}

// MemberIDs returns the connection ids of a room in join order
func (m *Membership) MemberIDs(roomID string) []string {
	members, exists := m.rooms[roomID]
	if !exists {
		return nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return members[ids[i]] < members[ids[j]]
	})
	return ids
}

// OtherMemberIDs returns every member of roomID except connID
func (m *Membership) OtherMemberIDs(roomID, connID string) []string {
	ids := m.MemberIDs(roomID)
	others := ids[:0]
	for _, id := range ids {
		if id != connID {
			others = append(others, id)
		}
	}
	return others
}

// IsMember reports whether connID has joined roomID
func (m *Membership) IsMember(roomID, connID string) bool {
	_, ok := m.rooms[roomID][connID]
	return ok
}

// Count returns the number of members of a room
func (m *Membership) Count(roomID string) int {
	return len(m.rooms[roomID])
}

// RoomsOf returns the rooms a connection belongs to, sorted
func (m *Membership) RoomsOf(connID string) []string {
	rooms := make([]string, 0, len(m.byConn[connID]))
	for roomID := range m.byConn[connID] {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

// Rooms returns every active room, sorted
func (m *Membership) Rooms() []string {
	rooms := make([]string, 0, len(m.rooms))
	for roomID := range m.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

// Leave removes connID from every room it belonged to and returns the
// remaining member count per room.
func (m *Membership) Leave(connID string) map[string]int {
	remaining := make(map[string]int, len(m.byConn[connID]))
	for _, roomID := range m.RoomsOf(connID) {
		count, _ := m.LeaveRoom(connID, roomID)
		remaining[roomID] = count
	}
	return remaining
}

// LeaveRoom removes connID from one room. ok is false if it was not a member.
// TECHNICAL DISCOVERY: Empty maps are deleted so an emptied room returns to absent.
func (m *Membership) LeaveRoom(connID, roomID string) (remaining int, ok bool) {
	members, exists := m.rooms[roomID]
	if !exists {
		return 0, false
	}
	if _, member := members[connID]; !member {
		return len(members), false
	}

	delete(members, connID)
	if len(members) == 0 {
		delete(m.rooms, roomID)
	}

	if rooms, exists := m.byConn[connID]; exists {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(m.byConn, connID)
		}
	}

	return len(members), true
}

// Package presence maps live connections to the identity shown to other members.
package presence

import "collabroom/pkg/types"

// Registry owns the identity of every live connection.
// It is mutated only from the hub goroutine and holds no locks.
type Registry struct {
	identities map[string]*types.Identity // connectionID -> Identity
}

// NewRegistry creates an empty presence registry
func NewRegistry() *Registry {
	return &Registry{
		identities: make(map[string]*types.Identity),
	}
}

// Register records or replaces the identity of a connection.
// Display name collisions between connections are allowed.
func (r *Registry) Register(connID, displayName string, profile *types.Profile) {
	var stored *types.Profile
	if profile != nil {
		copied := *profile
		stored = &copied
	}
	r.identities[connID] = &types.Identity{
		DisplayName: displayName,
		Profile:     stored,
	}
}

// Get returns the identity of a connection
func (r *Registry) Get(connID string) (types.Identity, bool) {
	identity, exists := r.identities[connID]
	if !exists {
		return types.Identity{}, false
	}
	return *identity, true
}

// DisplayName returns the registered name, or "" for an unknown connection
func (r *Registry) DisplayName(connID string) string {
	if identity, exists := r.identities[connID]; exists {
		return identity.DisplayName
	}
	return ""
}

// Unregister forgets a connection. Idempotent.
func (r *Registry) Unregister(connID string) {
	delete(r.identities, connID)
}

// Len returns the number of registered connections
func (r *Registry) Len() int {
	return len(r.identities)
}

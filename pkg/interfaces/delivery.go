package interfaces

import "collabroom/pkg/types"

// Deliverer fans out server frames to live connections
// FUNCTIONAL DISCOVERY: Delivery is fire-and-forget; a connection that already
// left is skipped and never retried
type Deliverer interface {
	// Deliver sends one frame to one connection
	Deliver(connID string, msg *types.Outbound) error

	// Broadcast encodes msg once and sends it to every listed connection,
	// returning how many sends were queued
	Broadcast(connIDs []string, msg *types.Outbound) int
}

// ProfileVerifier turns an identity token into a profile.
type ProfileVerifier interface {
	Verify(token string) (*types.Profile, error)
}

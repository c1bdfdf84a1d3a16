package interfaces

import (
	"context"

	"collabroom/pkg/types"
)

// ActivityRecorder receives room lifecycle records from the dispatcher
// FUNCTIONAL DISCOVERY: Recording must not block the hub goroutine, so
// implementations queue the write and return immediately
type ActivityRecorder interface {
	RecordActivity(activity *types.Activity)
}

// ActivityJournal is the persistence side of the room activity log
type ActivityJournal interface {
	ActivityRecorder

	// ListRoomActivity returns the newest records for a room, newest first
	ListRoomActivity(ctx context.Context, roomID string, limit int) ([]*types.Activity, error)

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and closes the database
	Close() error
}

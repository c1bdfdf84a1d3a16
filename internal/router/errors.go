package router

import "errors"

// Dispatch errors. The hub logs them at debug level and drops the event;
// none of them is reported back to the sender.
var (
	ErrUnknownEvent      = errors.New("unknown event type")
	ErrNotMember         = errors.New("sender is not a member of the room")
	ErrTargetNotMember   = errors.New("sync target is not a member of the room")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNothingToUndo     = errors.New("canvas is at the first entry")
	ErrNothingToRedo     = errors.New("canvas is at the last entry")
	ErrNoCursor          = errors.New("selection update without a cursor position")
)

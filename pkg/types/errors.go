package types

import "errors"

// Payload errors. All of them cause the event to be dropped without a reply.
var (
	ErrMalformedPayload = errors.New("malformed event payload")
	ErrMissingRoomID    = errors.New("event payload missing roomId")
	ErrInvalidRoomID    = errors.New("room ID must be 1-200 characters without control characters")
)

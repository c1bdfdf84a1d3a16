package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrInvalidToken       = errors.New("invalid identity token")
)

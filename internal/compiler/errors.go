package compiler

import "errors"

var (
	ErrNotConfigured       = errors.New("compiler credentials not configured")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrEmptyCode           = errors.New("code cannot be empty")
	ErrUpstream            = errors.New("compiler service request failed")
)

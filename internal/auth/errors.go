package auth

import "errors"

var (
	ErrAuthDisabled   = errors.New("identity tokens are disabled: no signing secret configured")
	ErrMissingProfile = errors.New("profile id required")
)

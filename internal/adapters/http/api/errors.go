package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest         = errors.New("malformed request body")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthorized       = errors.New("missing or invalid token")
	ErrForbidden          = errors.New("admin access required")
	ErrNoActiveSession    = errors.New("no active evaluation session")
)

package identity

import "errors"

// Sentinel kinds for identity errors.
var (
	ErrMissingToken  = errors.New("bearer token is required")
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrUnknownUser   = errors.New("unknown user")
	ErrNotConfigured = errors.New("identity is not configured")
)

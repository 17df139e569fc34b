package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound      = errors.New("match not found")
	ErrNotApplied    = errors.New("conditional update not applied")
	ErrAlreadyExists = errors.New("match already exists")
	ErrInvalidMatch  = errors.New("invalid match record")
	// ErrTransient marks an unavailable backend, an expired deadline or
	// exhausted compare-and-swap retries. Safe to retry with backoff.
	ErrTransient = errors.New("store temporarily unavailable")
)

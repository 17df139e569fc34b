package model

import "errors"

// Structural invariant violations.
var (
	ErrOverCapacity         = errors.New("participants exceed capacity")
	ErrDuplicateParticipant = errors.New("duplicate participant")
)

// Policy violations.
var (
	ErrCapacityOutOfBounds = errors.New("capacity out of bounds")
	ErrAgeOutOfBounds      = errors.New("age bounds must satisfy 0 <= min <= max <= 100")
	ErrInvalidGender       = errors.New("gender must be one of any, male, female, mixed")
	ErrInvalidVisibility   = errors.New("visibility must be public or private")
	ErrInvalidPolicy       = errors.New("invalid policy")
)

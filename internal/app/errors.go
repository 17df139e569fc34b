package service

import "errors"

// Precise reasons attached to apperror kinds by the service operations.
var (
	ErrMatchNotFound          = errors.New("match not found")
	ErrUserNotFound           = errors.New("user not found")
	ErrNotScheduled           = errors.New("match is not scheduled")
	ErrAlreadyJoined          = errors.New("user already joined")
	ErrMatchFull              = errors.New("match is full")
	ErrIneligible             = errors.New("user is not eligible")
	ErrRaceLost               = errors.New("join no longer possible, race lost")
	ErrNotParticipant         = errors.New("user is not a participant")
	ErrNotHost                = errors.New("only the host may change this match")
	ErrCapacityBelowOccupancy = errors.New("capacity is below current occupancy")
	ErrPastDatetime           = errors.New("datetime must be in the future")
	ErrStateChanged           = errors.New("match changed concurrently")
	ErrIdempotencyInFlight    = errors.New("request with this idempotency key is in progress")
	ErrMediaDisabled          = errors.New("imagery uploads are not enabled")
	ErrTooManyImages          = errors.New("too many images")
)

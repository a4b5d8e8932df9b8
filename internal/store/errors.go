package store

import "errors"

var (
	ErrInvalidBucket     = errors.New("invalid queue bucket")
	ErrDuplicateCheckIn  = errors.New("appointment already has an active visit")
	ErrVisitNotFound     = errors.New("visit not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrVisitSetMismatch  = errors.New("visit set does not match waiting queue")
	ErrNotInQueue        = errors.New("visit not in queue")
	ErrUnavailable       = errors.New("store unavailable")
)

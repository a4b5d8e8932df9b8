package checkin

import "errors"

var (
	ErrAlreadyCheckedIn = errors.New("appointment already checked in")
	ErrNotCheckedIn     = errors.New("appointment is not checked in")
)

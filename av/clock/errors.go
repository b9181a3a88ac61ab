package clock

import "errors"

var (
	// ErrAlreadyRunning is returned when the delivery driver is started twice.
	ErrAlreadyRunning = errors.New("clocked queue driver already running")

	// ErrStopped is returned when starting a queue that has reached Stopped.
	ErrStopped = errors.New("clocked queue stopped")
)

package av

import "errors"

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Lifecycle errors.
var (
	// ErrAlreadyRunning is returned when trying to start an already running service.
	ErrAlreadyRunning = errors.New("service is already running")
)

// Source registration errors.
var (
	// ErrInvalidSource indicates a stats source without a name or implementation.
	ErrInvalidSource = errors.New("invalid stats source")

	// ErrSourceExists indicates a stats source is already registered under the name.
	ErrSourceExists = errors.New("stats source already registered")
)

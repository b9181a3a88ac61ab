package capture

import "errors"

// Setup errors returned to the caller.
var (
	// ErrCannotAddInput indicates the session refused the new input.
	ErrCannotAddInput = errors.New("session cannot add input")

	// ErrInvalidSource indicates a capture source without its device or screen.
	ErrInvalidSource = errors.New("invalid capture source")

	// ErrScreenStart indicates the screen source failed to start.
	ErrScreenStart = errors.New("screen source failed to start")

	// ErrDisposed indicates the orchestrator has been disposed.
	ErrDisposed = errors.New("orchestrator disposed")
)

// Device errors. The orchestrator logs these and keeps its prior state.
var (
	// ErrConfigurationLocked indicates the device configuration lock could
	// not be acquired.
	ErrConfigurationLocked = errors.New("device configuration lock unavailable")
)

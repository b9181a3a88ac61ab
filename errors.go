package avio

import "errors"

var (
	// ErrInvalidOptions is returned by NewPipeline for unusable options.
	ErrInvalidOptions = errors.New("invalid pipeline options")

	// ErrAlreadyStarted is returned when starting a pipeline twice.
	ErrAlreadyStarted = errors.New("pipeline already started")
)

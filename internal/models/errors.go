package models

import "errors"

var (
	// ErrSourceUnavailable marks an upstream fetch failure; retried on the next scheduled run.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrInvalidRange marks a fetch window where start is not before end.
	ErrInvalidRange = errors.New("invalid range")
	// ErrWriteFailure marks a storage write that was rolled back.
	ErrWriteFailure = errors.New("write failure")
	// ErrConfiguration marks malformed configuration; fatal before any pair is processed.
	ErrConfiguration = errors.New("configuration error")
)

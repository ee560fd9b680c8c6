package engine

import "errors"

var (
	// ErrFileNotFound is returned when the input log does not exist. The run
	// aborts before any stage starts and nothing is written.
	ErrFileNotFound = errors.New("input file not found")

	// ErrIOFailure covers unreadable input and an artifact that cannot be
	// created or written. Parsed work is discarded.
	ErrIOFailure = errors.New("i/o failure")
)

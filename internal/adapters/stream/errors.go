package stream

import "errors"

// Sentinel errors for stream operations.
var (
	// ErrCapacityExceeded is returned when the subscription registry is full.
	ErrCapacityExceeded = errors.New("stream: subscription capacity exceeded")

	// ErrResyncRequired is returned when a resume cursor falls outside the
	// replay window and the subscriber must rebuild state from a full query.
	ErrResyncRequired = errors.New("stream: resume cursor outside replay window")

	// ErrInvalidFilter is returned for a malformed subscription filter.
	ErrInvalidFilter = errors.New("stream: invalid subscription filter")

	// ErrClosed is returned when the dispatcher has shut down.
	ErrClosed = errors.New("stream: dispatcher closed")
)

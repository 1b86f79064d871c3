package service

import "errors"

// Sentinel errors returned by the service API. These allow errors.Is from the
// HTTP layer to pick status codes.
var (
	// ErrInvalidEvent is returned for events failing basic validation.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrEventTooOld is returned for events older than the backfill window.
	ErrEventTooOld = errors.New("event older than backfill window")

	// ErrBackpressure is returned when the ingest queue is full. The event
	// stays staged, so the reconciliation sweeper retries it later.
	ErrBackpressure = errors.New("ingest queue full")

	// ErrInvalidResolution is returned for an unknown resolution label.
	ErrInvalidResolution = errors.New("invalid resolution")

	// ErrNotStarted is returned when an operation requires a started service.
	ErrNotStarted = errors.New("service not started")
)

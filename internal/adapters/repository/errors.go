package repository

import "errors"

// Sentinel kinds for bucket store errors.
var (
	ErrNotFound    = errors.New("bucket not found")
	ErrUnavailable = errors.New("bucket store unavailable")
)

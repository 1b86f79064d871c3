// Package dedupe defines the interface for idempotency tracking.
package dedupe

import "time"

// Option applies a configuration option to the windowDeduper.
type Option func(*windowDeduper)

// WithWindow sets how long recorded ids are retained. Duplicates of an id
// older than the window are impossible upstream, so entries past it are
// evicted. A non-positive window disables time-based eviction.
func WithWindow(window time.Duration) Option {
	return func(d *windowDeduper) {
		d.window = window
	}
}

// WithMaxSize bounds the number of ids kept in memory inside the window.
// A non-positive size removes the cap.
func WithMaxSize(maxSize int) Option {
	return func(d *windowDeduper) {
		d.maxSize = maxSize
	}
}

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(d *windowDeduper) {
		if now != nil {
			d.now = now
		}
	}
}

package sweeper

import (
	"time"

	"github.com/moodline/moodline/pkg/logger"
)

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval sets the time between sweep cycles.
func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithStalenessThreshold sets how old a pending event must be before the
// sweeper reconciles it.
func WithStalenessThreshold(threshold time.Duration) Option {
	return func(s *Sweeper) {
		if threshold > 0 {
			s.staleness = threshold
		}
	}
}

// WithPageSize sets the scan page size.
func WithPageSize(size int) Option {
	return func(s *Sweeper) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithRepublishTimeout bounds each individual republish attempt.
func WithRepublishTimeout(timeout time.Duration) Option {
	return func(s *Sweeper) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithNowFunc overrides the clock, used in tests.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

package worker

import (
	"time"

	"github.com/moodline/moodline/internal/domain/model"
	"github.com/moodline/moodline/pkg/logger"
)

// Option configures a Worker.
type Option func(*Worker)

// WithName sets the worker name used in logs.
func WithName(name string) Option {
	return func(w *Worker) {
		w.name = name
		w.logger = logger.Get().Named(name)
	}
}

// WithResolutions sets the bucket resolutions each event is aggregated into.
func WithResolutions(resolutions []model.Resolution) Option {
	return func(w *Worker) {
		if len(resolutions) > 0 {
			w.resolutions = resolutions
		}
	}
}

// WithRetryAttempts sets the per-bucket write retry budget.
func WithRetryAttempts(attempts int) Option {
	return func(w *Worker) {
		if attempts > 0 {
			w.retryAttempts = attempts
		}
	}
}

// WithRetryBackoff sets the initial backoff between write retries.
// The backoff doubles after each failed attempt.
func WithRetryBackoff(backoff time.Duration) Option {
	return func(w *Worker) {
		if backoff > 0 {
			w.retryBackoff = backoff
		}
	}
}

// WithNowFunc overrides the clock, used in tests.
func WithNowFunc(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

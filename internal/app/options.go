package service

import (
	"time"

	repository "github.com/moodline/moodline/internal/adapters/repository"
	staging "github.com/moodline/moodline/internal/adapters/staging"
	"github.com/moodline/moodline/internal/domain/model"
	"github.com/moodline/moodline/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of aggregation workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the idempotency set.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithDedupeWindow bounds how long event ids are remembered.
func WithDedupeWindow(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.dedupeWindow = window
		}
	}
}

// WithResolutions sets the bucket resolutions events are aggregated into.
func WithResolutions(resolutions []model.Resolution) Option {
	return func(s *Service) {
		if len(resolutions) > 0 {
			s.resolutions = resolutions
		}
	}
}

// WithBackfillWindow caps how far in the past an accepted event may land.
func WithBackfillWindow(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.backfillWindow = window
		}
	}
}

// WithShardCount configures the in-memory bucket store sharding.
func WithShardCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.shardCount = count
		}
	}
}

// WithBucketStore injects a bucket store, e.g. the redis-backed one.
func WithBucketStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.buckets = store
		}
	}
}

// WithStagingStore injects a staging store, e.g. the redis-backed one.
func WithStagingStore(store staging.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.staged = store
		}
	}
}

// WithHeartbeatInterval sets the stream heartbeat cadence.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.heartbeatInterval = interval
		}
	}
}

// WithMaxSubscriptions caps concurrent stream subscriptions.
func WithMaxSubscriptions(max int) Option {
	return func(s *Service) {
		if max > 0 {
			s.maxSubscriptions = max
		}
	}
}

// WithSendBufferSize sets the per-subscription delivery buffer.
func WithSendBufferSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.sendBufferSize = size
		}
	}
}

// WithReplayLog bounds the stream replay log by count and age.
func WithReplayLog(size int, maxAge time.Duration) Option {
	return func(s *Service) {
		if size > 0 {
			s.replayLogSize = size
		}
		if maxAge > 0 {
			s.replayLogAge = maxAge
		}
	}
}

// WithSweepInterval sets the reconciliation sweep cadence.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.sweepInterval = interval
		}
	}
}

// WithStalenessThreshold sets how old a pending event must be before the
// sweeper republishes it.
func WithStalenessThreshold(threshold time.Duration) Option {
	return func(s *Service) {
		if threshold > 0 {
			s.stalenessThreshold = threshold
		}
	}
}

// WithNowFunc overrides the clock, used in tests.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

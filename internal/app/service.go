// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	eventqueue "github.com/moodline/moodline/internal/adapters/mq/queue"
	workerpool "github.com/moodline/moodline/internal/adapters/mq/worker"
	repository "github.com/moodline/moodline/internal/adapters/repository"
	staging "github.com/moodline/moodline/internal/adapters/staging"
	"github.com/moodline/moodline/internal/adapters/stream"
	"github.com/moodline/moodline/internal/domain/bucketing"
	"github.com/moodline/moodline/internal/domain/dedupe"
	"github.com/moodline/moodline/internal/domain/model"
	"github.com/moodline/moodline/internal/sweeper"
	"github.com/moodline/moodline/pkg/logger"
	"github.com/moodline/moodline/pkg/metrics"
)

// clockSkewTolerance bounds how far in the future an event time may lie
// before the event is rejected.
const clockSkewTolerance = time.Minute

// Service wires ingestion, aggregation, streaming, and reconciliation.
type Service struct {
	mu sync.RWMutex

	// Core components
	buckets    repository.Store
	staged     staging.Store
	deduper    dedupe.Deduper
	eventQueue eventqueue.Queue
	dispatcher *stream.Dispatcher
	workerPool *workerpool.Pool
	sweep      *sweeper.Sweeper

	// Configuration
	workerCount    int
	queueSize      int
	dedupeSize     int
	dedupeWindow   time.Duration
	resolutions    []model.Resolution
	backfillWindow time.Duration
	shardCount     int

	heartbeatInterval time.Duration
	maxSubscriptions  int
	sendBufferSize    int
	replayLogSize     int
	replayLogAge      time.Duration

	sweepInterval      time.Duration
	stalenessThreshold time.Duration

	now func() time.Time

	// State
	started bool
	cancel  context.CancelFunc

	// Logging
	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:        runtime.NumCPU() * 2,
		queueSize:          100_000,
		dedupeSize:         500_000,
		dedupeWindow:       24 * time.Hour,
		resolutions:        bucketing.DefaultResolutions(),
		backfillWindow:     24 * time.Hour,
		shardCount:         8,
		heartbeatInterval:  30 * time.Second,
		maxSubscriptions:   100,
		sendBufferSize:     32,
		replayLogSize:      200,
		replayLogAge:       5 * time.Minute,
		sweepInterval:      60 * time.Second,
		stalenessThreshold: 600 * time.Second,
		now:                time.Now,
		logger:             nil, // Will be replaced when service starts
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	// Initialize logger if not already set
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting moodline service...")

	// Initialize components not injected via options
	if s.buckets == nil {
		s.buckets = repository.NewMemStore(ctx,
			repository.WithShardCount(s.shardCount),
			repository.WithNowFunc(s.now),
		)
		s.logger.Info(ctx, "using in-memory bucket store")
	}
	if s.staged == nil {
		s.staged = staging.NewMemStore(staging.WithNowFunc(s.now))
		s.logger.Info(ctx, "using in-memory staging store")
	}
	s.deduper = dedupe.NewWindowDeduper(
		dedupe.WithMaxSize(s.dedupeSize),
		dedupe.WithWindow(s.dedupeWindow),
		dedupe.WithNowFunc(s.now),
	)
	s.eventQueue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.queueSize),
	)
	s.dispatcher = stream.NewDispatcher(
		stream.WithHeartbeatInterval(s.heartbeatInterval),
		stream.WithMaxSubscriptions(s.maxSubscriptions),
		stream.WithSendBuffer(s.sendBufferSize),
		stream.WithReplayLog(s.replayLogSize, s.replayLogAge),
		stream.WithNowFunc(s.now),
	)
	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s.buckets, s.deduper, s.staged, s.dispatcher,
		workerpool.WithResolutions(s.resolutions),
		workerpool.WithNowFunc(s.now),
	)
	s.sweep = sweeper.New(s.staged, s,
		sweeper.WithInterval(s.sweepInterval),
		sweeper.WithStalenessThreshold(s.stalenessThreshold),
		sweeper.WithNowFunc(s.now),
	)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.dispatcher.Run(runCtx)
	s.workerPool.Start(runCtx)
	go s.sweep.Run(runCtx)

	s.started = true
	s.logger.Info(ctx, "moodline service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("resolutions", len(s.resolutions)),
	)

	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping moodline service...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if s.sweep != nil {
		_ = s.sweep.Shutdown(shutdownCtx)
	}
	if s.workerPool != nil {
		s.workerPool.Stop()
	}
	if s.dispatcher != nil {
		_ = s.dispatcher.Shutdown(shutdownCtx)
	}
	if s.eventQueue != nil {
		_ = s.eventQueue.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}

	s.started = false
	s.logger.Info(ctx, "moodline service stopped")
}

// Submit validates and ingests one scored event: the event is staged as
// pending, then enqueued for asynchronous aggregation. A full queue leaves
// the staged record in place so the reconciliation sweeper redelivers it.
func (s *Service) Submit(ctx context.Context, e model.ScoredEvent) error {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	if err := s.validate(e); err != nil {
		metrics.RecordIngestionRejected()
		return err
	}

	if err := s.staged.PutPending(ctx, e); err != nil {
		return fmt.Errorf("stage event: %w", err)
	}

	if !s.eventQueue.Enqueue(ctx, e) {
		metrics.RecordQueueEnqueueError()
		s.logger.Warn(ctx, "queue full, leaving event staged for sweeper",
			logger.String("eventID", e.ID),
		)
		return ErrBackpressure
	}

	metrics.RecordEventIngested()
	return nil
}

// Resubmit re-enqueues a staged event on behalf of the sweeper. Validation is
// skipped: the event was accepted once, and the aggregation-side idempotency
// check absorbs redundant deliveries.
func (s *Service) Resubmit(ctx context.Context, e model.ScoredEvent) error {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	if !s.eventQueue.Enqueue(ctx, e) {
		return ErrBackpressure
	}
	return nil
}

func (s *Service) validate(e model.ScoredEvent) error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidEvent)
	}
	if e.Subject == "" {
		return fmt.Errorf("%w: empty subject", ErrInvalidEvent)
	}
	if e.Score < -1 || e.Score > 1 {
		return fmt.Errorf("%w: score %v outside [-1, 1]", ErrInvalidEvent, e.Score)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}

	now := s.now()
	if e.OccurredAt.After(now.Add(clockSkewTolerance)) {
		return fmt.Errorf("%w: occurred_at in the future", ErrInvalidEvent)
	}
	if bucketing.TooOld(e, s.backfillWindow, now) {
		return fmt.Errorf("%w: occurred_at %s", ErrEventTooOld, e.OccurredAt.Format(time.RFC3339))
	}
	return nil
}

// Subscribe registers a stream subscription. resolution may be empty to match
// every resolution; lastEventID zero means live-only. resync reports that the
// cursor was too old and the client must rebuild state via a range query.
func (s *Service) Subscribe(subject, resolution string, lastEventID uint64) (*stream.Subscription, []model.StreamEvent, bool, error) {
	s.mu.RLock()
	started := s.started
	dispatcher := s.dispatcher
	s.mu.RUnlock()
	if !started {
		return nil, nil, false, ErrNotStarted
	}

	var res model.Resolution
	if resolution != "" {
		parsed, err := model.ParseResolution(resolution)
		if err != nil {
			return nil, nil, false, fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
		}
		res = parsed
	}

	return dispatcher.Subscribe(subject, res, lastEventID)
}

// Unsubscribe removes a subscription; unknown ids are a no-op.
func (s *Service) Unsubscribe(id string) {
	s.mu.RLock()
	dispatcher := s.dispatcher
	s.mu.RUnlock()
	if dispatcher != nil {
		dispatcher.Unsubscribe(id)
	}
}

// Stream serves a subscription to a sink until the context ends.
func (s *Service) Stream(ctx context.Context, sub *stream.Subscription, replay []model.StreamEvent, sink stream.Sink) error {
	s.mu.RLock()
	dispatcher := s.dispatcher
	s.mu.RUnlock()
	if dispatcher == nil {
		return ErrNotStarted
	}
	return dispatcher.Stream(ctx, sub, replay, sink)
}

// QueryBuckets returns the buckets for a subject and resolution whose start
// falls in [start, end), oldest first. Buckets that never received an event
// are absent.
func (s *Service) QueryBuckets(ctx context.Context, subject, resolution string, start, end time.Time) ([]model.BucketSnapshot, error) {
	s.mu.RLock()
	started := s.started
	store := s.buckets
	s.mu.RUnlock()
	if !started {
		return nil, ErrNotStarted
	}

	res, err := model.ParseResolution(resolution)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
	}

	return store.QueryRange(ctx, subject, res, start, end)
}

// CurrentBucket returns the bucket covering the current instant for a subject
// and resolution. A bucket that has seen no events yet is returned as an
// empty snapshot rather than an error.
func (s *Service) CurrentBucket(ctx context.Context, subject, resolution string) (model.BucketSnapshot, error) {
	s.mu.RLock()
	started := s.started
	store := s.buckets
	s.mu.RUnlock()
	if !started {
		return model.BucketSnapshot{}, ErrNotStarted
	}

	res, err := model.ParseResolution(resolution)
	if err != nil {
		return model.BucketSnapshot{}, fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
	}

	now := s.now()
	key := model.BucketKey{
		Subject:     subject,
		Resolution:  res,
		BucketStart: bucketing.BucketStart(now, res),
	}

	snap, err := store.Get(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return model.BucketSnapshot{Key: key, IsPartial: true}, nil
	}
	if err != nil {
		return model.BucketSnapshot{}, err
	}
	return snap, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"resolutions": len(s.resolutions),
	}

	if s.started {
		queueLen := s.eventQueue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["trackedBuckets"] = s.buckets.Count(ctx)
		stats["pendingEvents"] = s.staged.PendingCount(ctx)
		stats["subscriptions"] = s.dispatcher.SubscriptionCount()
		stats["sweeperState"] = string(s.sweep.State())
		stats["dedupeEntries"] = s.deduper.Size()

		metrics.UpdateQueueSize(queueLen)
	}

	return stats
}

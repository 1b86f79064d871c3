// Package worker implements the aggregation workers that turn scored events
// into multi-resolution bucket updates.
//
// Each worker dequeues events, applies one incremental update per configured
// resolution to the bucket store with a bounded retry budget, marks the
// staged event complete, and hands changed partial buckets to the stream
// notifier. The idempotency check is scoped per (event, resolution): a
// redelivered event applies only the resolutions that never landed, so
// sweeper redelivery after a store failure completes the remainder without
// double-counting. Updates to closed buckets are backfill: the store is
// mutated, no notification is emitted.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/moodline/moodline/internal/domain/bucketing"
	"github.com/moodline/moodline/internal/domain/model"
	"github.com/moodline/moodline/pkg/logger"
	"github.com/moodline/moodline/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	defaultRetryAttempts    = 3
	defaultRetryBackoff     = 50 * time.Millisecond
	workerShutdownTimeout   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Event abstracts what workers read off the queue.
type Event = model.ScoredEvent

// BucketStore is the subset of the repository contract workers write to.
type BucketStore interface {
	Increment(ctx context.Context, key model.BucketKey, delta model.BucketDelta) (model.BucketSnapshot, error)
	Get(ctx context.Context, key model.BucketKey) (model.BucketSnapshot, error)
}

// Deduper is the idempotency check applied before any store write. Unrecord
// releases a marker whose write never landed so redelivery can retry it.
type Deduper interface {
	SeenAndRecord(ctx context.Context, id string) bool
	Unrecord(ctx context.Context, id string)
}

// Completer marks staged events as processed.
type Completer interface {
	MarkComplete(ctx context.Context, id string) error
}

// Notifier receives bucket-change notifications for the stream dispatcher.
// Publish must not block; it returns false when the notification was dropped.
type Notifier interface {
	Publish(snap model.BucketSnapshot) bool
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes events and writes bucket updates using the provided interfaces.
type Worker struct {
	queue     Queue
	store     BucketStore
	deduper   Deduper
	completer Completer
	notifier  Notifier
	tracker   *partialTracker
	name      string

	resolutions   []model.Resolution
	retryAttempts int
	retryBackoff  time.Duration
	now           func() time.Time

	// Shutdown control
	shutdown chan struct{}
	done     chan struct{}

	// Logging
	logger logger.Logger
}

// NewWorker creates a new aggregation worker with configuration options.
func NewWorker(q Queue, store BucketStore, deduper Deduper, completer Completer, notifier Notifier, opts ...Option) *Worker {
	w := &Worker{
		queue:         q,
		store:         store,
		deduper:       deduper,
		completer:     completer,
		notifier:      notifier,
		name:          "worker",
		resolutions:   bucketing.DefaultResolutions(),
		retryAttempts: defaultRetryAttempts,
		retryBackoff:  defaultRetryBackoff,
		now:           time.Now,
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
		logger:        logger.Get().Named("worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.tracker == nil {
		w.tracker = newPartialTracker(w.store, w.notifier, w.now)
	}

	return w
}

// Run starts the worker loop.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	eventChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case event, ok := <-eventChan:
			if !ok {
				// Channel closed, worker should stop
				return
			}

			if err := w.processEvent(ctx, event); err != nil {
				w.logger.Error(ctx, "event aggregation failed",
					logger.String("worker", w.name),
					logger.String("eventID", event.ID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *Worker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out", logger.String("worker", w.name))
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// resolutionMarker is the dedup key for one (event, resolution) pair.
func resolutionMarker(eventID string, r model.Resolution) string {
	return eventID + "@" + r.String()
}

// processEvent aggregates a single event into every configured resolution.
func (w *Worker) processEvent(ctx context.Context, event Event) error {
	delta := bucketing.DeltaFor(event)
	applied := 0

	for _, res := range w.resolutions {
		marker := resolutionMarker(event.ID, res)
		if w.deduper.SeenAndRecord(ctx, marker) {
			continue
		}

		key := bucketing.KeyFor(event, res)

		snap, err := w.incrementWithRetry(ctx, key, delta)
		if err != nil {
			// Release the marker: this resolution never landed and the
			// sweeper's redelivery must be able to apply it. Resolutions
			// that did land keep their markers and redeliver as no-ops.
			w.deduper.Unrecord(ctx, marker)
			metrics.RecordAggregationFailure()
			return fmt.Errorf("bucket %s, event %s: %w", key.String(), event.ID, err)
		}
		applied++

		if snap.IsPartial {
			w.tracker.Track(snap)
			if !w.notifier.Publish(snap) {
				metrics.RecordNotificationDropped()
			}
		} else {
			metrics.RecordEventBackfill()
		}
	}

	if applied == 0 {
		metrics.RecordEventDuplicate()
		w.logger.Debug(ctx, "duplicate event skipped",
			logger.String("eventID", event.ID),
		)
	}

	// MarkComplete runs even for a full duplicate: it also repairs an event
	// whose increments all landed but whose completion mark was lost.
	if err := w.completer.MarkComplete(ctx, event.ID); err != nil {
		w.logger.Warn(ctx, "mark complete failed",
			logger.String("eventID", event.ID),
			logger.Error(err),
		)
	}

	return nil
}

// incrementWithRetry applies one bucket update with bounded exponential backoff.
func (w *Worker) incrementWithRetry(ctx context.Context, key model.BucketKey, delta model.BucketDelta) (model.BucketSnapshot, error) {
	var lastErr error
	backoff := w.retryBackoff

	for attempt := 1; attempt <= w.retryAttempts; attempt++ {
		start := time.Now()
		snap, err := w.store.Increment(ctx, key, delta)
		metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds()))
		if err == nil {
			return snap, nil
		}
		lastErr = err

		if attempt < w.retryAttempts {
			metrics.RecordAggregationRetry()
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return model.BucketSnapshot{}, ctx.Err()
			case <-w.shutdown:
				return model.BucketSnapshot{}, fmt.Errorf("worker stopped during retry: %w", lastErr)
			}
			backoff *= 2
		}
	}

	return model.BucketSnapshot{}, fmt.Errorf("store write exhausted %d attempts: %w", w.retryAttempts, lastErr)
}

// Pool manages multiple workers plus the shared partial-bucket tracker.
type Pool struct {
	workers []*Worker
	tracker *partialTracker

	// Shutdown control
	shutdown chan struct{}

	// Logging
	logger logger.Logger
}

// NewPool creates a new worker pool.
func NewPool(workerCount int, q Queue, store BucketStore, deduper Deduper, completer Completer, notifier Notifier, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers:  make([]*Worker, workerCount),
		shutdown: make(chan struct{}),
		logger:   logger.Get().Named("worker-pool"),
	}

	// One tracker shared by all workers; it owns the partial->final
	// transition so exactly one closing notification is emitted per bucket.
	template := NewWorker(q, store, deduper, completer, notifier, opts...)
	pool.tracker = template.tracker

	for i := 0; i < workerCount; i++ {
		w := NewWorker(q, store, deduper, completer, notifier,
			append(opts, WithName("worker-"+strconv.Itoa(i)))...)
		w.tracker = pool.tracker
		pool.workers[i] = w
	}

	return pool
}

// Start starts all workers and the partial-bucket closer.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.tracker.Run(ctx, p.shutdown)
}

// Stop gracefully stops all workers.
func (p *Pool) Stop() {
	close(p.shutdown)

	for _, w := range p.workers {
		select {
		case <-w.shutdown:
			// already shut down individually
		default:
			close(w.shutdown)
		}
	}

	for _, w := range p.workers {
		select {
		case <-w.done:
		case <-time.After(workerShutdownTimeout):
		}
	}
}

// Shutdown gracefully shuts down the entire worker pool.
func (p *Pool) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	p.Stop()

	select {
	case <-shutdownCtx.Done():
		p.logger.Warn(ctx, "pool shutdown timed out")
		return fmt.Errorf("pool shutdown: %w", shutdownCtx.Err())
	default:
		return nil
	}
}

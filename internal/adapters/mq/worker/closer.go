package worker

import (
	"context"
	"sync"
	"time"

	"github.com/moodline/moodline/internal/domain/model"
	"github.com/moodline/moodline/pkg/logger"
	"github.com/moodline/moodline/pkg/metrics"
)

const closerTickInterval = time.Second

// partialTracker remembers which buckets are still inside their window and
// emits the single closing notification once the window ends. Buckets that
// never received a live update while partial are never tracked, so backfill
// writes produce no closing notification either.
type partialTracker struct {
	mu   sync.Mutex
	open map[string]model.BucketKey

	store    BucketStore
	notifier Notifier
	now      func() time.Time
	logger   logger.Logger
}

func newPartialTracker(store BucketStore, notifier Notifier, now func() time.Time) *partialTracker {
	return &partialTracker{
		open:     make(map[string]model.BucketKey),
		store:    store,
		notifier: notifier,
		now:      now,
		logger:   logger.Get().Named("bucket-closer"),
	}
}

// Track registers a bucket as open. Calling it again for the same bucket is a
// cheap no-op.
func (t *partialTracker) Track(snap model.BucketSnapshot) {
	if !snap.IsPartial {
		return
	}

	k := snap.Key.String()
	t.mu.Lock()
	if _, ok := t.open[k]; !ok {
		t.open[k] = snap.Key
	}
	t.mu.Unlock()
}

// Run sweeps tracked buckets until the context or shutdown channel closes.
func (t *partialTracker) Run(ctx context.Context, shutdown <-chan struct{}) {
	ticker := time.NewTicker(closerTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// sweep closes every tracked bucket whose window has ended, emitting exactly
// one final non-partial notification per bucket.
func (t *partialTracker) sweep(ctx context.Context) {
	now := t.now()

	t.mu.Lock()
	var due []model.BucketKey
	for k, key := range t.open {
		if !key.BucketStart.Add(key.Resolution.Duration()).After(now) {
			due = append(due, key)
			delete(t.open, k)
		}
	}
	t.mu.Unlock()

	for _, key := range due {
		snap, err := t.store.Get(ctx, key)
		if err != nil {
			t.logger.Warn(ctx, "closing snapshot fetch failed",
				logger.String("bucket", key.String()),
				logger.Error(err),
			)
			continue
		}

		snap.IsPartial = false
		metrics.RecordBucketClosed()
		if !t.notifier.Publish(snap) {
			metrics.RecordNotificationDropped()
		}
	}
}

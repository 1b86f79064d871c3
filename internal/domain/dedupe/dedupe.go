// Package dedupe defines the interface for idempotency tracking.
//
// The deduper is the second line of defense against at-least-once delivery:
// the sweeper may re-publish an event the aggregator already applied, and
// upstream retries may submit the same event id twice. Entries are evicted
// once they age past the backfill window, after which a duplicate of the
// same id can no longer arrive.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Deduper records seen event IDs to ensure at-most-once aggregation.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an ID from the seen list, allowing it to be retried.
	// Used when an event was marked seen but never applied (e.g. queue
	// backpressure after the idempotency check).
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// entry pairs an id with the time it was recorded, for window eviction.
type entry struct {
	id string
	at time.Time
}

// windowDeduper implements Deduper with time-window eviction. Entries older
// than the window are pruned on each insert; an optional max size bounds
// memory against bursts inside the window.
type windowDeduper struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	queue   []entry // insertion order, pruned from the front
	window  time.Duration
	maxSize int
	size    atomic.Int64
	now     func() time.Time
}

// NewWindowDeduper creates a deduper with configuration options.
func NewWindowDeduper(opts ...Option) Deduper {
	d := &windowDeduper{
		window:  24 * time.Hour,
		maxSize: 500_000,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]time.Time)

	return d
}

// SeenAndRecord atomically checks if id was seen and records it if not.
func (d *windowDeduper) SeenAndRecord(ctx context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.prune(now)

	if _, exists := d.seen[id]; exists {
		return true
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}

	d.seen[id] = now
	d.queue = append(d.queue, entry{id: id, at: now})
	d.size.Store(int64(len(d.seen)))
	return false
}

// Unrecord removes an ID from the seen list, allowing it to be retried.
func (d *windowDeduper) Unrecord(ctx context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		delete(d.seen, id)
		// The queue entry becomes stale and is skipped during pruning.
		d.size.Store(int64(len(d.seen)))
	}
}

// Size returns the current number of tracked ids.
func (d *windowDeduper) Size() int64 {
	return d.size.Load()
}

// prune drops queue entries older than the window. Must hold d.mu.
func (d *windowDeduper) prune(now time.Time) {
	if d.window <= 0 {
		return
	}
	cutoff := now.Add(-d.window)
	i := 0
	for ; i < len(d.queue); i++ {
		e := d.queue[i]
		if e.at.After(cutoff) {
			break
		}
		// Only delete if the map still holds this recording; a newer
		// re-record after Unrecord keeps its own queue entry.
		if at, ok := d.seen[e.id]; ok && at.Equal(e.at) {
			delete(d.seen, e.id)
		}
	}
	if i > 0 {
		d.queue = append([]entry(nil), d.queue[i:]...)
		d.size.Store(int64(len(d.seen)))
	}
}

// evictOldest drops the single oldest live entry. Must hold d.mu.
func (d *windowDeduper) evictOldest() {
	for len(d.queue) > 0 {
		e := d.queue[0]
		d.queue = d.queue[1:]
		if at, ok := d.seen[e.id]; ok && at.Equal(e.at) {
			delete(d.seen, e.id)
			return
		}
	}
}

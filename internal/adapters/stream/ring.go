package stream

import (
	"sync"
	"time"

	"github.com/moodline/moodline/internal/domain/model"
)

// Default replay-log bounds.
const (
	defaultReplaySize = 200
	defaultReplayAge  = 5 * time.Minute
)

type ringEntry struct {
	event model.StreamEvent
	at    time.Time
}

// replayRing is a bounded log of recently emitted stream events, evicted by
// count and by age. A reconnecting subscriber replays every event after its
// cursor; a cursor older than the oldest retained event requires a resync.
type replayRing struct {
	mu      sync.Mutex
	entries []ringEntry
	maxSize int
	maxAge  time.Duration
	now     func() time.Time

	// lastEvicted is the id of the newest event dropped from the ring.
	// A cursor at or below it can no longer be resumed gap-free.
	lastEvicted uint64

	// lastAppended is the id of the newest event ever recorded. A cursor
	// above it was minted by another process lifetime (ids reset on
	// restart) or is garbage; either way it cannot be resumed.
	lastAppended uint64
}

func newReplayRing(maxSize int, maxAge time.Duration, now func() time.Time) *replayRing {
	if maxSize <= 0 {
		maxSize = defaultReplaySize
	}
	if maxAge <= 0 {
		maxAge = defaultReplayAge
	}
	if now == nil {
		now = time.Now
	}
	return &replayRing{
		maxSize: maxSize,
		maxAge:  maxAge,
		now:     now,
	}
}

// Append records an emitted event, evicting the oldest entries past the size
// or age bound.
func (r *replayRing) Append(ev model.StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, ringEntry{event: ev, at: r.now()})
	r.lastAppended = ev.ID
	r.pruneLocked()
}

func (r *replayRing) pruneLocked() {
	cutoff := r.now().Add(-r.maxAge)

	drop := 0
	for drop < len(r.entries) && r.entries[drop].at.Before(cutoff) {
		drop++
	}
	if over := len(r.entries) - r.maxSize; over > drop {
		drop = over
	}
	if drop > 0 {
		r.lastEvicted = r.entries[drop-1].event.ID
		r.entries = r.entries[drop:]
	}
}

// ReplaySince returns every retained event with an id greater than lastID, in
// emission order. It returns ErrResyncRequired when events after lastID have
// already been evicted, or when lastID is beyond anything this process has
// emitted; a gap-free resume is impossible either way.
func (r *replayRing) ReplaySince(lastID uint64) ([]model.StreamEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()

	if lastID < r.lastEvicted || lastID > r.lastAppended {
		return nil, ErrResyncRequired
	}

	var out []model.StreamEvent
	for _, e := range r.entries {
		if e.event.ID > lastID {
			out = append(out, e.event)
		}
	}
	return out, nil
}

// Len returns the number of retained events.
func (r *replayRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

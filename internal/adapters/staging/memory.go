package staging

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/moodline/moodline/internal/domain/model"
)

// Default staging configuration constants.
const (
	defaultScanLimit = 100
)

// indexEntry is one row of the (status, occurred_at) index.
type indexEntry struct {
	occurredAt time.Time
	id         string
}

// MemStore is an in-memory staging store. Alongside the primary map it keeps
// a per-status slice ordered by (occurred_at, id), which is the index the
// staleness scan walks; the scan never touches the primary map beyond the
// ids the index yields.
type MemStore struct {
	mu    sync.RWMutex
	items map[string]*model.StagedEvent
	index map[model.ProcessingStatus][]indexEntry
	now   func() time.Time
}

// MemOption applies a configuration option to the MemStore.
type MemOption func(*MemStore)

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(now func() time.Time) MemOption {
	return func(s *MemStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemStore creates an in-memory staging store.
func NewMemStore(opts ...MemOption) *MemStore {
	s := &MemStore{
		items: make(map[string]*model.StagedEvent),
		index: make(map[model.ProcessingStatus][]indexEntry),
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// PutPending stages an event as pending, keeping the original staging time
// on re-stage.
func (s *MemStore) PutPending(ctx context.Context, e model.ScoredEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[e.ID]; exists {
		return nil
	}

	s.items[e.ID] = &model.StagedEvent{
		Event:    e,
		Status:   model.StatusPending,
		StagedAt: s.now(),
	}
	s.indexInsert(model.StatusPending, indexEntry{occurredAt: e.OccurredAt, id: e.ID})
	return nil
}

// MarkComplete transitions an event to complete.
func (s *MemStore) MarkComplete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if item.Status == model.StatusComplete {
		return nil
	}

	s.indexRemove(item.Status, indexEntry{occurredAt: item.Event.OccurredAt, id: id})
	item.Status = model.StatusComplete
	s.indexInsert(model.StatusComplete, indexEntry{occurredAt: item.Event.OccurredAt, id: id})
	return nil
}

// MarkSwept records a reconciliation attempt.
func (s *MemStore) MarkSwept(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	item.LastSweepAt = at
	return nil
}

// ScanStale walks the status index in (occurred_at, id) order.
func (s *MemStore) ScanStale(ctx context.Context, status model.ProcessingStatus, before time.Time, cursor string, limit int) ([]model.StagedEvent, string, error) {
	if limit <= 0 {
		limit = defaultScanLimit
	}

	cursorAt, cursorID, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.index[status]
	start := 0
	if cursor != "" {
		start = sort.Search(len(idx), func(i int) bool {
			e := idx[i]
			if e.occurredAt.Equal(cursorAt) {
				return e.id > cursorID
			}
			return e.occurredAt.After(cursorAt)
		})
	}

	var page []model.StagedEvent
	var next string
	for i := start; i < len(idx); i++ {
		e := idx[i]
		if !e.occurredAt.Before(before) {
			break
		}
		item := s.items[e.id]
		if item == nil {
			continue
		}
		// Recently swept items wait a full staleness period before
		// becoming eligible again.
		if !item.LastSweepAt.IsZero() && !item.LastSweepAt.Before(before) {
			continue
		}
		page = append(page, *item)
		if len(page) == limit {
			if i+1 < len(idx) && idx[i+1].occurredAt.Before(before) {
				next = encodeCursor(e.occurredAt, e.id)
			}
			break
		}
	}
	return page, next, nil
}

// PendingCount returns the number of pending events.
func (s *MemStore) PendingCount(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index[model.StatusPending])
}

// indexInsert keeps the index ordered by (occurred_at, id). Must hold s.mu.
func (s *MemStore) indexInsert(status model.ProcessingStatus, e indexEntry) {
	idx := s.index[status]
	pos := sort.Search(len(idx), func(i int) bool {
		if idx[i].occurredAt.Equal(e.occurredAt) {
			return idx[i].id >= e.id
		}
		return idx[i].occurredAt.After(e.occurredAt)
	})
	idx = append(idx, indexEntry{})
	copy(idx[pos+1:], idx[pos:])
	idx[pos] = e
	s.index[status] = idx
}

// indexRemove drops an entry from the status index. Must hold s.mu.
func (s *MemStore) indexRemove(status model.ProcessingStatus, e indexEntry) {
	idx := s.index[status]
	pos := sort.Search(len(idx), func(i int) bool {
		if idx[i].occurredAt.Equal(e.occurredAt) {
			return idx[i].id >= e.id
		}
		return idx[i].occurredAt.After(e.occurredAt)
	})
	if pos < len(idx) && idx[pos].id == e.id && idx[pos].occurredAt.Equal(e.occurredAt) {
		s.index[status] = append(idx[:pos], idx[pos+1:]...)
	}
}

// encodeCursor packs an index position into an opaque token.
func encodeCursor(at time.Time, id string) string {
	return fmt.Sprintf("%d|%s", at.UnixNano(), id)
}

// decodeCursor unpacks a token produced by encodeCursor.
func decodeCursor(cursor string) (time.Time, string, error) {
	if cursor == "" {
		return time.Time{}, "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid scan cursor %q", cursor)
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid scan cursor %q: %w", cursor, err)
	}
	return time.Unix(0, nanos).UTC(), parts[1], nil
}

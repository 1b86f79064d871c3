package repository

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/moodline/moodline/internal/domain/model"
	"github.com/moodline/moodline/pkg/metrics"
)

// Default memory store configuration constants.
const (
	defaultShardCount = 8
)

// record holds the mutable aggregate for one bucket key.
type record struct {
	count     int64
	sumScore  float64
	minScore  float64
	maxScore  float64
	updatedAt time.Time
}

// shard holds a slice of the key space under its own lock.
type shard struct {
	mu      sync.RWMutex
	buckets map[string]*record
	keys    map[string]model.BucketKey
}

// MemStore is a sharded in-memory Store. Each key's merge happens under its
// shard lock, which makes Increment atomic per key.
type MemStore struct {
	shards []*shard
	now    func() time.Time
}

// NewMemStore creates an in-memory bucket store with configuration options.
func NewMemStore(ctx context.Context, opts ...Option) *MemStore {
	cfg := storeConfig{
		shardCount: defaultShardCount,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	s := &MemStore{
		shards: make([]*shard, cfg.shardCount),
		now:    cfg.now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{
			buckets: make(map[string]*record),
			keys:    make(map[string]model.BucketKey),
		}
	}
	return s
}

// shardFor picks the shard owning a storage key.
func (s *MemStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Increment applies a delta to the bucket at key, creating it lazily.
func (s *MemStore) Increment(ctx context.Context, key model.BucketKey, delta model.BucketDelta) (model.BucketSnapshot, error) {
	k := key.String()
	sh := s.shardFor(k)

	sh.mu.Lock()
	rec, ok := sh.buckets[k]
	if !ok {
		rec = &record{
			minScore: delta.MinScore,
			maxScore: delta.MaxScore,
		}
		sh.buckets[k] = rec
		sh.keys[k] = key
	} else {
		if delta.MinScore < rec.minScore {
			rec.minScore = delta.MinScore
		}
		if delta.MaxScore > rec.maxScore {
			rec.maxScore = delta.MaxScore
		}
	}
	rec.count += delta.Count
	rec.sumScore += delta.SumScore
	rec.updatedAt = s.now()
	snap := s.snapshot(key, rec)
	sh.mu.Unlock()

	metrics.RecordBucketMutated()
	return snap, nil
}

// Get returns the bucket at key, or ErrNotFound.
func (s *MemStore) Get(ctx context.Context, key model.BucketKey) (model.BucketSnapshot, error) {
	k := key.String()
	sh := s.shardFor(k)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rec, ok := sh.buckets[k]
	if !ok {
		return model.BucketSnapshot{}, ErrNotFound
	}
	return s.snapshot(key, rec), nil
}

// QueryRange returns buckets for one subject/resolution ordered by start.
func (s *MemStore) QueryRange(ctx context.Context, subject string, r model.Resolution, start, end time.Time) ([]model.BucketSnapshot, error) {
	var out []model.BucketSnapshot

	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, key := range sh.keys {
			if key.Subject != subject || key.Resolution != r {
				continue
			}
			if key.BucketStart.Before(start) || !key.BucketStart.Before(end) {
				continue
			}
			out = append(out, s.snapshot(key, sh.buckets[k]))
		}
		sh.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.BucketStart.Before(out[j].Key.BucketStart)
	})
	return out, nil
}

// Count returns the number of buckets tracked.
func (s *MemStore) Count(ctx context.Context) int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.buckets)
		sh.mu.RUnlock()
	}
	return total
}

// snapshot copies a record into an immutable snapshot. Partiality is derived
// from the clock at read time, never stored.
func (s *MemStore) snapshot(key model.BucketKey, rec *record) model.BucketSnapshot {
	return model.BucketSnapshot{
		Key:           key,
		Count:         rec.count,
		SumScore:      rec.sumScore,
		MinScore:      rec.minScore,
		MaxScore:      rec.maxScore,
		IsPartial:     key.BucketStart.Add(key.Resolution.Duration()).After(s.now()),
		LastUpdatedAt: rec.updatedAt,
	}
}

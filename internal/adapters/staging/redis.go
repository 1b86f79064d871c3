package staging

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moodline/moodline/internal/domain/model"
)

// putPendingScript stages an event unless the id is already present, and
// registers it in the pending (status, occurred_at) sorted-set index.
var putPendingScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1],
  'id', ARGV[1], 'subject', ARGV[2], 'score', ARGV[3],
  'occurred_ms', ARGV[4], 'status', 'pending',
  'staged_ms', ARGV[5], 'sweep_ms', '0')
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
return 1
`)

// markCompleteScript moves an event between the status indexes and flips its
// status field. Returns -1 when the id is unknown.
var markCompleteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'complete' then return 0 end
local occurred = redis.call('HGET', KEYS[1], 'occurred_ms')
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], occurred, ARGV[1])
redis.call('HSET', KEYS[1], 'status', 'complete')
return 1
`)

// RedisStore implements Store on a redis instance. The per-status sorted
// sets, scored by occurred_at, are the composite index the staleness scan
// requires.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a redis-backed staging store.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "moodline"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) eventKey(id string) string {
	return fmt.Sprintf("%s:stage:%s", s.prefix, id)
}

func (s *RedisStore) indexKey(status model.ProcessingStatus) string {
	return fmt.Sprintf("%s:stageidx:%s", s.prefix, status)
}

// PutPending stages an event as pending unless already staged.
func (s *RedisStore) PutPending(ctx context.Context, e model.ScoredEvent) error {
	keys := []string{s.eventKey(e.ID), s.indexKey(model.StatusPending)}
	args := []interface{}{
		e.ID,
		e.Subject,
		e.Score,
		e.OccurredAt.UnixMilli(),
		time.Now().UnixMilli(),
	}
	if err := putPendingScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("%w: put pending: %v", ErrUnavailable, err)
	}
	return nil
}

// MarkComplete transitions an event to complete.
func (s *RedisStore) MarkComplete(ctx context.Context, id string) error {
	keys := []string{
		s.eventKey(id),
		s.indexKey(model.StatusPending),
		s.indexKey(model.StatusComplete),
	}
	res, err := markCompleteScript.Run(ctx, s.client, keys, id).Int64()
	if err != nil {
		return fmt.Errorf("%w: mark complete: %v", ErrUnavailable, err)
	}
	if res == -1 {
		return ErrNotFound
	}
	return nil
}

// MarkSwept records a reconciliation attempt timestamp.
func (s *RedisStore) MarkSwept(ctx context.Context, id string, at time.Time) error {
	n, err := s.client.Exists(ctx, s.eventKey(id)).Result()
	if err != nil {
		return fmt.Errorf("%w: mark swept: %v", ErrUnavailable, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := s.client.HSet(ctx, s.eventKey(id), "sweep_ms", at.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("%w: mark swept: %v", ErrUnavailable, err)
	}
	return nil
}

// ScanStale pages through the status index ordered by occurred_at. The
// cursor is a numeric offset into the index.
func (s *RedisStore) ScanStale(ctx context.Context, status model.ProcessingStatus, before time.Time, cursor string, limit int) ([]model.StagedEvent, string, error) {
	if limit <= 0 {
		limit = defaultScanLimit
	}
	offset := int64(0)
	if cursor != "" {
		parsed, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("invalid scan cursor %q: %w", cursor, err)
		}
		offset = parsed
	}

	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(status), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    "(" + strconv.FormatInt(before.UnixMilli(), 10),
		Offset: offset,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, "", fmt.Errorf("%w: scan stale: %v", ErrUnavailable, err)
	}

	page := make([]model.StagedEvent, 0, len(ids))
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, s.eventKey(id)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		item, err := stagedFromHash(fields)
		if err != nil {
			continue
		}
		if !item.LastSweepAt.IsZero() && !item.LastSweepAt.Before(before) {
			continue
		}
		page = append(page, item)
	}

	next := ""
	if len(ids) == limit {
		next = strconv.FormatInt(offset+int64(limit), 10)
	}
	return page, next, nil
}

// PendingCount returns the number of pending events.
func (s *RedisStore) PendingCount(ctx context.Context) int {
	n, err := s.client.ZCard(ctx, s.indexKey(model.StatusPending)).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

func stagedFromHash(fields map[string]string) (model.StagedEvent, error) {
	occurredMs, err := strconv.ParseInt(fields["occurred_ms"], 10, 64)
	if err != nil {
		return model.StagedEvent{}, fmt.Errorf("bad occurred_ms %q", fields["occurred_ms"])
	}
	score, _ := strconv.ParseFloat(fields["score"], 64)
	stagedMs, _ := strconv.ParseInt(fields["staged_ms"], 10, 64)
	sweepMs, _ := strconv.ParseInt(fields["sweep_ms"], 10, 64)

	item := model.StagedEvent{
		Event: model.ScoredEvent{
			ID:         fields["id"],
			Subject:    fields["subject"],
			Score:      score,
			OccurredAt: time.UnixMilli(occurredMs).UTC(),
		},
		Status:   model.ProcessingStatus(fields["status"]),
		StagedAt: time.UnixMilli(stagedMs).UTC(),
	}
	if sweepMs > 0 {
		item.LastSweepAt = time.UnixMilli(sweepMs).UTC()
	}
	return item, nil
}

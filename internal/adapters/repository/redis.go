package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moodline/moodline/internal/domain/model"
	"github.com/moodline/moodline/pkg/metrics"
)

// Default redis store configuration constants.
const (
	defaultKeyPrefix = "moodline"
)

// incrementScript merges a delta into a bucket hash atomically on the server:
// count and sum are incremented, min and max folded, and the bucket is
// registered in the per-(subject,resolution) range index. Returns the merged
// count, sum, min and max.
var incrementScript = redis.NewScript(`
local c = redis.call('HINCRBY', KEYS[1], 'count', ARGV[1])
local s = redis.call('HINCRBYFLOAT', KEYS[1], 'sum', ARGV[2])
local mn = redis.call('HGET', KEYS[1], 'min')
if not mn or tonumber(ARGV[3]) < tonumber(mn) then
  redis.call('HSET', KEYS[1], 'min', ARGV[3])
  mn = ARGV[3]
end
local mx = redis.call('HGET', KEYS[1], 'max')
if not mx or tonumber(ARGV[4]) > tonumber(mx) then
  redis.call('HSET', KEYS[1], 'max', ARGV[4])
  mx = ARGV[4]
end
redis.call('HSET', KEYS[1], 'updated_ms', ARGV[5])
redis.call('ZADD', KEYS[2], ARGV[6], ARGV[6])
redis.call('SADD', KEYS[3], KEYS[1])
return {c, tostring(s), tostring(mn), tostring(mx)}
`)

// RedisStore implements Store on a redis instance. The Lua increment script
// provides the per-key atomic merge the Store contract requires.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a redis-backed bucket store.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	cfg := storeConfig{
		keyPrefix: defaultKeyPrefix,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &RedisStore{
		client: client,
		prefix: cfg.keyPrefix,
		now:    cfg.now,
	}
}

func (s *RedisStore) bucketKey(key model.BucketKey) string {
	return fmt.Sprintf("%s:b:%s", s.prefix, key.String())
}

func (s *RedisStore) indexKey(subject string, r model.Resolution) string {
	return fmt.Sprintf("%s:idx:%s|%s", s.prefix, subject, r)
}

func (s *RedisStore) allKey() string {
	return s.prefix + ":buckets"
}

// Increment applies a delta to the bucket at key via the merge script.
func (s *RedisStore) Increment(ctx context.Context, key model.BucketKey, delta model.BucketDelta) (model.BucketSnapshot, error) {
	now := s.now()
	keys := []string{
		s.bucketKey(key),
		s.indexKey(key.Subject, key.Resolution),
		s.allKey(),
	}
	args := []interface{}{
		delta.Count,
		delta.SumScore,
		delta.MinScore,
		delta.MaxScore,
		now.UnixMilli(),
		key.BucketStart.Unix(),
	}

	res, err := incrementScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return model.BucketSnapshot{}, fmt.Errorf("%w: increment: %v", ErrUnavailable, err)
	}
	if len(res) != 4 {
		return model.BucketSnapshot{}, fmt.Errorf("%w: increment returned %d values", ErrUnavailable, len(res))
	}

	count, _ := res[0].(int64)
	sum, err := parseScriptFloat(res[1])
	if err != nil {
		return model.BucketSnapshot{}, err
	}
	minScore, err := parseScriptFloat(res[2])
	if err != nil {
		return model.BucketSnapshot{}, err
	}
	maxScore, err := parseScriptFloat(res[3])
	if err != nil {
		return model.BucketSnapshot{}, err
	}

	metrics.RecordBucketMutated()
	return model.BucketSnapshot{
		Key:           key,
		Count:         count,
		SumScore:      sum,
		MinScore:      minScore,
		MaxScore:      maxScore,
		IsPartial:     key.BucketStart.Add(key.Resolution.Duration()).After(now),
		LastUpdatedAt: now,
	}, nil
}

// Get returns the bucket at key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key model.BucketKey) (model.BucketSnapshot, error) {
	fields, err := s.client.HGetAll(ctx, s.bucketKey(key)).Result()
	if err != nil {
		return model.BucketSnapshot{}, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return model.BucketSnapshot{}, ErrNotFound
	}
	return s.snapshotFromHash(key, fields)
}

// QueryRange reads the range index and fetches each bucket in window order.
func (s *RedisStore) QueryRange(ctx context.Context, subject string, r model.Resolution, start, end time.Time) ([]model.BucketSnapshot, error) {
	members, err := s.client.ZRangeByScore(ctx, s.indexKey(subject, r), &redis.ZRangeBy{
		Min: strconv.FormatInt(start.Unix(), 10),
		Max: "(" + strconv.FormatInt(end.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: query range: %v", ErrUnavailable, err)
	}

	out := make([]model.BucketSnapshot, 0, len(members))
	for _, m := range members {
		startUnix, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		key := model.BucketKey{
			Subject:     subject,
			Resolution:  r,
			BucketStart: time.Unix(startUnix, 0).UTC(),
		}
		snap, err := s.Get(ctx, key)
		if err != nil {
			// Index entries can outlive expired buckets; skip them.
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Count returns the number of buckets tracked.
func (s *RedisStore) Count(ctx context.Context) int {
	n, err := s.client.SCard(ctx, s.allKey()).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

func (s *RedisStore) snapshotFromHash(key model.BucketKey, fields map[string]string) (model.BucketSnapshot, error) {
	count, err := strconv.ParseInt(fields["count"], 10, 64)
	if err != nil {
		return model.BucketSnapshot{}, fmt.Errorf("%w: bad count %q", ErrUnavailable, fields["count"])
	}
	sum, _ := strconv.ParseFloat(fields["sum"], 64)
	minScore, _ := strconv.ParseFloat(fields["min"], 64)
	maxScore, _ := strconv.ParseFloat(fields["max"], 64)
	updatedMs, _ := strconv.ParseInt(fields["updated_ms"], 10, 64)

	return model.BucketSnapshot{
		Key:           key,
		Count:         count,
		SumScore:      sum,
		MinScore:      minScore,
		MaxScore:      maxScore,
		IsPartial:     key.BucketStart.Add(key.Resolution.Duration()).After(s.now()),
		LastUpdatedAt: time.UnixMilli(updatedMs).UTC(),
	}, nil
}

func parseScriptFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad script float %q", ErrUnavailable, t)
		}
		return f, nil
	case int64:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("%w: unexpected script value %T", ErrUnavailable, v)
	}
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/moodline/moodline/internal/domain/model"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 10, 7, 0, 0, time.UTC)
}

func testKey(start time.Time) model.BucketKey {
	return model.BucketKey{
		Subject:     "AAPL",
		Resolution:  model.Resolution(5 * time.Minute),
		BucketStart: start,
	}
}

func TestMemStore_IncrementAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(ctx, WithNowFunc(fixedNow))
	key := testKey(time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC))

	// Absent until first increment
	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, score := range []float64{0.2, -0.1, 0.5} {
		if _, err := s.Increment(ctx, key, model.BucketDelta{Count: 1, SumScore: score, MinScore: score, MaxScore: score}); err != nil {
			t.Fatalf("increment failed: %v", err)
		}
	}

	snap, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if snap.Count != 3 {
		t.Errorf("expected count 3, got %d", snap.Count)
	}
	if got := snap.AvgScore(); got < 0.199 || got > 0.201 {
		t.Errorf("expected avg 0.2, got %f", got)
	}
	if snap.MinScore != -0.1 || snap.MaxScore != 0.5 {
		t.Errorf("expected min=-0.1 max=0.5, got min=%f max=%f", snap.MinScore, snap.MaxScore)
	}
	if !snap.IsPartial {
		t.Error("expected current bucket to be partial")
	}

	if c := s.Count(ctx); c != 1 {
		t.Errorf("expected 1 bucket, got %d", c)
	}
}

func TestMemStore_PartialDerivedFromClock(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(ctx, WithNowFunc(fixedNow))

	closed := testKey(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	if _, err := s.Increment(ctx, closed, model.BucketDelta{Count: 1, SumScore: 0.3, MinScore: 0.3, MaxScore: 0.3}); err != nil {
		t.Fatalf("increment failed: %v", err)
	}

	snap, err := s.Get(ctx, closed)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if snap.IsPartial {
		t.Error("expected closed window to be non-partial")
	}
}

func TestMemStore_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(ctx)
	key := testKey(time.Now().UTC().Truncate(5 * time.Minute))

	const n = 500
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Increment(ctx, key, model.BucketDelta{Count: 1, SumScore: 0.1, MinScore: 0.1, MaxScore: 0.1})
		}()
	}
	wg.Wait()

	snap, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if snap.Count != n {
		t.Errorf("expected count %d after concurrent increments, got %d", n, snap.Count)
	}
}

func TestMemStore_QueryRange(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(ctx, WithNowFunc(fixedNow))
	res := model.Resolution(5 * time.Minute)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	// Write buckets out of order to check result ordering.
	for _, offset := range []int{3, 0, 2, 1} {
		key := model.BucketKey{Subject: "AAPL", Resolution: res, BucketStart: base.Add(time.Duration(offset) * 5 * time.Minute)}
		if _, err := s.Increment(ctx, key, model.BucketDelta{Count: 1, SumScore: 0.1, MinScore: 0.1, MaxScore: 0.1}); err != nil {
			t.Fatalf("increment failed: %v", err)
		}
	}
	// Different subject and resolution must not leak into results.
	other := model.BucketKey{Subject: "TSLA", Resolution: res, BucketStart: base}
	if _, err := s.Increment(ctx, other, model.BucketDelta{Count: 1, SumScore: 0.1, MinScore: 0.1, MaxScore: 0.1}); err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	hourly := model.BucketKey{Subject: "AAPL", Resolution: model.Resolution(time.Hour), BucketStart: base}
	if _, err := s.Increment(ctx, hourly, model.BucketDelta{Count: 1, SumScore: 0.1, MinScore: 0.1, MaxScore: 0.1}); err != nil {
		t.Fatalf("increment failed: %v", err)
	}

	got, err := s.QueryRange(ctx, "AAPL", res, base, base.Add(20*time.Minute))
	if err != nil {
		t.Fatalf("query range failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 buckets, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Key.BucketStart.Before(got[i].Key.BucketStart) {
			t.Errorf("results not ordered at index %d", i)
		}
	}

	// End bound is exclusive.
	got, err = s.QueryRange(ctx, "AAPL", res, base, base.Add(15*time.Minute))
	if err != nil {
		t.Fatalf("query range failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 buckets with exclusive end, got %d", len(got))
	}
}

func TestMemStore_DistinctKeysPerResolution(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(ctx)

	e := time.Now().UTC()
	for i, res := range []time.Duration{time.Minute, 5 * time.Minute, time.Hour} {
		key := model.BucketKey{Subject: "AAPL", Resolution: model.Resolution(res), BucketStart: e.Truncate(res)}
		if _, err := s.Increment(ctx, key, model.BucketDelta{Count: 1, SumScore: 0.1, MinScore: 0.1, MaxScore: 0.1}); err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
	}

	if c := s.Count(ctx); c != 3 {
		t.Errorf("expected one bucket per resolution, got %d", c)
	}
}

func TestMemStore_ManySubjectsSharded(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(ctx, WithShardCount(4))

	start := time.Now().UTC().Truncate(time.Minute)
	for i := 0; i < 64; i++ {
		key := model.BucketKey{
			Subject:     fmt.Sprintf("SUBJ-%d", i),
			Resolution:  model.Resolution(time.Minute),
			BucketStart: start,
		}
		if _, err := s.Increment(ctx, key, model.BucketDelta{Count: 1, SumScore: 0.5, MinScore: 0.5, MaxScore: 0.5}); err != nil {
			t.Fatalf("increment failed: %v", err)
		}
	}

	if c := s.Count(ctx); c != 64 {
		t.Errorf("expected 64 buckets across shards, got %d", c)
	}
}

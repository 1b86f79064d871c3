package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/moodline/moodline/internal/domain/model"
)

func TestRegistryCapacity(t *testing.T) {
	reg := NewRegistry(2, 8, time.Now)

	if _, err := reg.Add("AAPL", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := reg.Add("TSLA", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := reg.Add("MSFT", 0); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	// Removing frees a slot.
	subs := reg.All()
	reg.Remove(subs[0].ID)
	if _, err := reg.Add("MSFT", 0); err != nil {
		t.Fatalf("expected slot after removal, got %v", err)
	}
}

func TestRegistryInvalidFilter(t *testing.T) {
	reg := NewRegistry(2, 8, time.Now)
	if _, err := reg.Add("", 0); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	reg := NewRegistry(2, 8, time.Now)
	sub, err := reg.Add("AAPL", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reg.Remove(sub.ID)
	reg.Remove(sub.ID)
	reg.Remove("unknown")

	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}

	select {
	case <-sub.Done():
	default:
		t.Fatal("expected subscription done channel closed")
	}
}

func TestRegistryMatching(t *testing.T) {
	reg := NewRegistry(10, 8, time.Now)

	wildcard, _ := reg.Add(SubjectWildcard, 0)
	exact, _ := reg.Add("AAPL", 0)
	resFiltered, _ := reg.Add("AAPL", model.Resolution(5*time.Minute))
	other, _ := reg.Add("TSLA", 0)

	key := model.BucketKey{
		Subject:     "AAPL",
		Resolution:  model.Resolution(time.Minute),
		BucketStart: time.Now(),
	}

	matched := map[string]bool{}
	for _, sub := range reg.Matching(key) {
		matched[sub.ID] = true
	}

	if !matched[wildcard.ID] || !matched[exact.ID] {
		t.Errorf("expected wildcard and exact subscriptions to match")
	}
	if matched[resFiltered.ID] {
		t.Errorf("resolution-filtered subscription must not match a different resolution")
	}
	if matched[other.ID] {
		t.Errorf("different-subject subscription must not match")
	}
}

func TestSubscriptionDropOldest(t *testing.T) {
	reg := NewRegistry(1, 2, time.Now)
	sub, err := reg.Add("AAPL", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for id := uint64(1); id <= 4; id++ {
		sub.offer(model.StreamEvent{ID: id, Kind: model.KindBucketUpdate})
	}

	// Buffer of 2 with drop-oldest keeps the freshest two events.
	first := <-sub.Events()
	second := <-sub.Events()
	if first.ID != 3 || second.ID != 4 {
		t.Fatalf("expected events 3 and 4, got %d and %d", first.ID, second.ID)
	}
}

func TestRegistryEvictStale(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	reg := NewRegistry(10, 8, func() time.Time { return base })

	stale, _ := reg.Add("AAPL", 0)
	fresh, _ := reg.Add("TSLA", 0)
	fresh.MarkDelivered(base.Add(2 * time.Minute))

	evicted := reg.EvictStale(base.Add(time.Minute))
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 remaining subscription, got %d", reg.Len())
	}

	select {
	case <-stale.Done():
	default:
		t.Fatal("expected evicted subscription done channel closed")
	}
}

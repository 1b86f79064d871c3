package staging

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/moodline/moodline/internal/domain/model"
)

func stagedEvent(id string, occurredAt time.Time) model.ScoredEvent {
	return model.ScoredEvent{ID: id, Subject: "AAPL", Score: 0.2, OccurredAt: occurredAt}
}

func TestMemStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Now().UTC()

	if err := s.PutPending(ctx, stagedEvent("e1", now)); err != nil {
		t.Fatalf("put pending failed: %v", err)
	}
	if got := s.PendingCount(ctx); got != 1 {
		t.Fatalf("expected 1 pending, got %d", got)
	}

	// Re-staging the same id is a no-op.
	if err := s.PutPending(ctx, stagedEvent("e1", now)); err != nil {
		t.Fatalf("re-stage failed: %v", err)
	}
	if got := s.PendingCount(ctx); got != 1 {
		t.Errorf("expected re-stage to be a no-op, got %d pending", got)
	}

	if err := s.MarkComplete(ctx, "e1"); err != nil {
		t.Fatalf("mark complete failed: %v", err)
	}
	if got := s.PendingCount(ctx); got != 0 {
		t.Errorf("expected 0 pending after completion, got %d", got)
	}

	// Completing twice is a no-op; unknown ids error.
	if err := s.MarkComplete(ctx, "e1"); err != nil {
		t.Errorf("second completion should be a no-op, got %v", err)
	}
	if err := s.MarkComplete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStore_ScanStaleFindsBacklog(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// A non-trivial backlog: 25 stale events plus fresh and completed ones
	// that must not appear.
	for i := 0; i < 25; i++ {
		e := stagedEvent(fmt.Sprintf("stale-%02d", i), now.Add(-time.Hour).Add(time.Duration(i)*time.Second))
		if err := s.PutPending(ctx, e); err != nil {
			t.Fatalf("put pending failed: %v", err)
		}
	}
	if err := s.PutPending(ctx, stagedEvent("fresh", now.Add(-time.Minute))); err != nil {
		t.Fatalf("put pending failed: %v", err)
	}
	if err := s.PutPending(ctx, stagedEvent("done", now.Add(-2*time.Hour))); err != nil {
		t.Fatalf("put pending failed: %v", err)
	}
	if err := s.MarkComplete(ctx, "done"); err != nil {
		t.Fatalf("mark complete failed: %v", err)
	}

	before := now.Add(-10 * time.Minute)
	var all []model.StagedEvent
	cursor := ""
	pages := 0
	for {
		page, next, err := s.ScanStale(ctx, model.StatusPending, before, cursor, 10)
		if err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		all = append(all, page...)
		pages++
		if next == "" {
			break
		}
		cursor = next
	}

	if len(all) != 25 {
		t.Fatalf("expected the full 25-item backlog, got %d items in %d pages", len(all), pages)
	}
	if pages < 3 {
		t.Errorf("expected pagination over at least 3 pages, got %d", pages)
	}
	for i := 1; i < len(all); i++ {
		if all[i].Event.OccurredAt.Before(all[i-1].Event.OccurredAt) {
			t.Fatalf("scan results out of order at index %d", i)
		}
	}
	for _, item := range all {
		if item.Event.ID == "" || item.Event.Subject == "" || item.Event.OccurredAt.IsZero() {
			t.Fatalf("scan returned a truncated event: %+v", item)
		}
	}
}

func TestMemStore_ScanSkipsRecentlySwept(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.PutPending(ctx, stagedEvent("e1", now.Add(-time.Hour))); err != nil {
		t.Fatalf("put pending failed: %v", err)
	}
	if err := s.MarkSwept(ctx, "e1", now); err != nil {
		t.Fatalf("mark swept failed: %v", err)
	}

	before := now.Add(-10 * time.Minute)
	page, _, err := s.ScanStale(ctx, model.StatusPending, before, "", 10)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(page) != 0 {
		t.Errorf("expected recently swept event to be skipped, got %d items", len(page))
	}

	// Once the sweep attempt itself ages past the cutoff, the event is
	// eligible again.
	later := now.Add(20 * time.Minute)
	page, _, err = s.ScanStale(ctx, model.StatusPending, later.Add(-10*time.Minute), "", 10)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("expected event to become eligible again, got %d items", len(page))
	}
}

func TestMemStore_ScanCursorValidation(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	if _, _, err := s.ScanStale(ctx, model.StatusPending, time.Now(), "not-a-cursor", 10); err == nil {
		t.Error("expected invalid cursor to error")
	}
}

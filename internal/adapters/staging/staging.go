// Package staging defines the store holding accepted-but-unprocessed events.
//
// Events sit here with status pending from the moment ingestion accepts them
// until the aggregator marks them complete. The reconciliation sweeper scans
// this store for events stuck in pending past the staleness threshold. Scans
// go through an index keyed by (status, occurred_at); implementations must
// never fall back to walking the full event history, and scan results carry
// the complete event so republication needs no second partial-key lookup.
package staging

import (
	"context"
	"errors"
	"time"

	"github.com/moodline/moodline/internal/domain/model"
)

// Sentinel kinds for staging store errors.
var (
	ErrNotFound    = errors.New("staged event not found")
	ErrUnavailable = errors.New("staging store unavailable")
)

// Store tracks scored events through their processing lifecycle.
type Store interface {
	// PutPending stages an event as pending. Re-staging an id that is
	// already present is a no-op keeping the original staging time, so
	// sweeper republication cannot reset an event's age.
	PutPending(ctx context.Context, e model.ScoredEvent) error

	// MarkComplete transitions an event to complete. Unknown ids return
	// ErrNotFound; completing twice is a no-op.
	MarkComplete(ctx context.Context, id string) error

	// MarkSwept records a reconciliation attempt so the event is not
	// re-selected by the immediately following sweep.
	MarkSwept(ctx context.Context, id string, at time.Time) error

	// ScanStale returns a page of events with the given status whose
	// occurred_at is before the cutoff and whose last sweep attempt (if
	// any) is also before the cutoff. Pages are ordered by occurred_at
	// ascending; cursor is the opaque token returned by the previous page,
	// empty for the first. An empty next cursor marks the final page.
	ScanStale(ctx context.Context, status model.ProcessingStatus, before time.Time, cursor string, limit int) ([]model.StagedEvent, string, error)

	// PendingCount returns the number of events currently pending.
	PendingCount(ctx context.Context) int
}

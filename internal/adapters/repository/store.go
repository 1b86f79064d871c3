// Package repository defines the bucket store interface and errors.
//
// Buckets are keyed by (subject, resolution, bucket_start) and mutated only
// through incremental merges, never full overwrites, so concurrent writers
// for the same key cannot lose updates. Buckets are created lazily on first
// increment; an empty bucket is absent from the store.
package repository

import (
	"context"
	"time"

	"github.com/moodline/moodline/internal/domain/model"
)

// Store provides read/write access to aggregated time buckets.
type Store interface {
	// Increment applies a delta to the bucket at key, creating it if absent,
	// and returns the post-update snapshot. The merge is atomic per key:
	// count and sum are added, min and max folded.
	Increment(ctx context.Context, key model.BucketKey, delta model.BucketDelta) (model.BucketSnapshot, error)

	// Get returns the bucket at key.
	// Returns ErrNotFound if the bucket has never been written.
	Get(ctx context.Context, key model.BucketKey) (model.BucketSnapshot, error)

	// QueryRange returns buckets for one subject and resolution whose start
	// falls in [start, end), ordered by bucket start ascending.
	QueryRange(ctx context.Context, subject string, r model.Resolution, start, end time.Time) ([]model.BucketSnapshot, error)

	// Count returns the number of buckets tracked in the store.
	Count(ctx context.Context) int
}

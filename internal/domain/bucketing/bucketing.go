// Package bucketing holds the pure time-window math used by the aggregator:
// which bucket an event falls into at each resolution, whether that bucket is
// still open, and whether the event counts as backfill.
package bucketing

import (
	"time"

	"github.com/moodline/moodline/internal/domain/model"
)

// DefaultResolutions returns the standard set of configured bucket widths.
func DefaultResolutions() []model.Resolution {
	return []model.Resolution{
		model.Resolution(time.Minute),
		model.Resolution(5 * time.Minute),
		model.Resolution(10 * time.Minute),
		model.Resolution(time.Hour),
		model.Resolution(3 * time.Hour),
		model.Resolution(6 * time.Hour),
		model.Resolution(12 * time.Hour),
		model.Resolution(24 * time.Hour),
	}
}

// ParseResolutions parses a list of compact resolution strings.
func ParseResolutions(in []string) ([]model.Resolution, error) {
	out := make([]model.Resolution, 0, len(in))
	for _, s := range in {
		r, err := model.ParseResolution(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// BucketStart floors an event time onto a resolution boundary.
func BucketStart(ts time.Time, r model.Resolution) time.Time {
	return ts.Truncate(r.Duration())
}

// KeyFor returns the bucket key an event maps to at the given resolution.
func KeyFor(e model.ScoredEvent, r model.Resolution) model.BucketKey {
	return model.BucketKey{
		Subject:     e.Subject,
		Resolution:  r,
		BucketStart: BucketStart(e.OccurredAt, r),
	}
}

// DeltaFor builds the incremental update one event contributes to a bucket.
func DeltaFor(e model.ScoredEvent) model.BucketDelta {
	return model.BucketDelta{
		Count:    1,
		SumScore: e.Score,
		MinScore: e.Score,
		MaxScore: e.Score,
	}
}

// IsPartial reports whether the bucket window is still open at now.
func IsPartial(key model.BucketKey, now time.Time) bool {
	return key.BucketStart.Add(key.Resolution.Duration()).After(now)
}

// IsBackfill reports whether an event lands in an already-closed window at
// the given resolution. Backfill updates history silently: the store is
// mutated but no current-bucket notification is emitted.
func IsBackfill(e model.ScoredEvent, r model.Resolution, now time.Time) bool {
	return !IsPartial(KeyFor(e, r), now)
}

// TooOld reports whether an event is older than the accepted backfill window.
// Such events are still aggregated, but callers should flag them.
func TooOld(e model.ScoredEvent, window time.Duration, now time.Time) bool {
	if window <= 0 {
		return false
	}
	return e.OccurredAt.Before(now.Add(-window))
}

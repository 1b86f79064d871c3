// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"
)

// ProcessingStatus tracks where a scored event is in its lifecycle.
type ProcessingStatus string

// Lifecycle states of a scored event.
const (
	StatusPending  ProcessingStatus = "pending"
	StatusComplete ProcessingStatus = "complete"
)

// ScoredEvent represents one analyzed content item submitted for aggregation.
type ScoredEvent struct {
	ID         string    // unique id for idempotency
	Subject    string    // tag or ticker the event belongs to
	Score      float64   // sentiment score in [-1, 1]
	OccurredAt time.Time // event time, not processing time
}

// StagedEvent is a scored event held in the staging store until aggregation completes.
type StagedEvent struct {
	Event       ScoredEvent
	Status      ProcessingStatus
	StagedAt    time.Time
	LastSweepAt time.Time // zero until the sweeper re-submits it
}

// Resolution is a fixed bucket width, e.g. 5 minutes or 1 hour.
type Resolution time.Duration

// Duration returns the resolution as a time.Duration.
func (r Resolution) Duration() time.Duration { return time.Duration(r) }

// String renders the resolution in compact form ("5m", "1h", "24h").
func (r Resolution) String() string {
	d := time.Duration(r)
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	return d.String()
}

// ParseResolution parses a compact resolution string such as "5m" or "1h".
func ParseResolution(s string) (Resolution, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid resolution %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid resolution %q: must be positive", s)
	}
	return Resolution(d), nil
}

// BucketKey identifies one bucket: one subject, one resolution, one window start.
type BucketKey struct {
	Subject     string
	Resolution  Resolution
	BucketStart time.Time
}

// String renders the key in the canonical subject|resolution|start form used
// as a storage key by bucket store implementations.
func (k BucketKey) String() string {
	return fmt.Sprintf("%s|%s|%d", k.Subject, k.Resolution, k.BucketStart.Unix())
}

// BucketDelta is an incremental update applied to a bucket.
type BucketDelta struct {
	Count    int64
	SumScore float64
	MinScore float64
	MaxScore float64
}

// BucketSnapshot is the aggregate state of a bucket after an update.
type BucketSnapshot struct {
	Key           BucketKey
	Count         int64
	SumScore      float64
	MinScore      float64
	MaxScore      float64
	IsPartial     bool
	LastUpdatedAt time.Time
}

// AvgScore returns the derived average score; zero when the bucket is empty.
func (s BucketSnapshot) AvgScore() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.SumScore / float64(s.Count)
}

// StreamEventKind discriminates the wire-level stream event variants.
type StreamEventKind string

// Stream event kinds pushed to subscribers.
const (
	KindBucketUpdate   StreamEventKind = "bucket_update"
	KindHeartbeat      StreamEventKind = "heartbeat"
	KindResyncRequired StreamEventKind = "resync_required"
)

// BucketUpdatePayload carries a bucket aggregate to stream subscribers.
type BucketUpdatePayload struct {
	Subject     string    `json:"subject"`
	Resolution  string    `json:"resolution"`
	BucketStart time.Time `json:"bucket_start"`
	Count       int64     `json:"count"`
	AvgScore    float64   `json:"avg"`
	MinScore    float64   `json:"min"`
	MaxScore    float64   `json:"max"`
	IsPartial   bool      `json:"is_partial"`
}

// HeartbeatPayload is the periodic liveness signal sent to every subscriber.
type HeartbeatPayload struct {
	ServerTime        time.Time `json:"server_time"`
	ActiveConnections int       `json:"active_connections"`
}

// StreamEvent is the wire-level unit pushed to clients. IDs increase
// monotonically within a process lifetime.
type StreamEvent struct {
	ID           uint64               `json:"event_id"`
	Kind         StreamEventKind      `json:"event_type"`
	BucketUpdate *BucketUpdatePayload `json:"bucket_update,omitempty"`
	Heartbeat    *HeartbeatPayload    `json:"heartbeat,omitempty"`
}

// NewBucketUpdate builds a bucket_update stream event from a snapshot.
// The event id is assigned by the dispatcher at emission time.
func NewBucketUpdate(snap BucketSnapshot) StreamEvent {
	return StreamEvent{
		Kind: KindBucketUpdate,
		BucketUpdate: &BucketUpdatePayload{
			Subject:     snap.Key.Subject,
			Resolution:  snap.Key.Resolution.String(),
			BucketStart: snap.Key.BucketStart,
			Count:       snap.Count,
			AvgScore:    snap.AvgScore(),
			MinScore:    snap.MinScore,
			MaxScore:    snap.MaxScore,
			IsPartial:   snap.IsPartial,
		},
	}
}

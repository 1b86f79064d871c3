// Package stream fans bucket-change notifications out to live subscribers.
//
// The dispatcher consumes a bounded notify channel fed by the aggregation
// workers, stamps each outgoing event with a process-monotonic id, records it
// in a replay log, and delivers it to every matching subscription. A
// reconnecting subscriber presents its last seen id and receives the missed
// events from the replay log, or a resync signal when the gap is too old.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moodline/moodline/internal/domain/model"
	"github.com/moodline/moodline/pkg/logger"
	"github.com/moodline/moodline/pkg/metrics"
)

// Default dispatcher configuration constants.
const (
	defaultNotifyBuffer      = 1024
	defaultHeartbeatInterval = 30 * time.Second

	// staleMultiplier scales the heartbeat interval into the idle cutoff
	// after which a non-consuming subscription is evicted.
	staleMultiplier = 3
)

// Dispatcher owns event-id assignment, the replay log, and fan-out.
type Dispatcher struct {
	notify chan model.BucketSnapshot
	reg    *Registry
	ring   *replayRing

	// seq is guarded by emitMu, which also serializes emission against
	// subscription attach so a resuming subscriber cannot miss events
	// between its replay snapshot and going live.
	emitMu sync.Mutex
	seq    uint64

	heartbeatInterval time.Duration
	now               func() time.Time

	// Shutdown control
	shutdown chan struct{}
	done     chan struct{}

	// Logging
	logger logger.Logger
}

// NewDispatcher creates a stream dispatcher with configuration options.
func NewDispatcher(opts ...Option) *Dispatcher {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return &Dispatcher{
		notify:            make(chan model.BucketSnapshot, cfg.notifyBuffer),
		reg:               NewRegistry(cfg.maxSubscriptions, cfg.sendBuffer, cfg.now),
		ring:              newReplayRing(cfg.replaySize, cfg.replayAge, cfg.now),
		heartbeatInterval: cfg.heartbeatInterval,
		now:               cfg.now,
		shutdown:          make(chan struct{}),
		done:              make(chan struct{}),
		logger:            logger.Get().Named("stream"),
	}
}

// Publish hands a bucket snapshot to the dispatcher without blocking. It
// returns false when the notify buffer is full and the notification was
// dropped; subscribers converge again via later updates for the same bucket.
func (d *Dispatcher) Publish(snap model.BucketSnapshot) bool {
	select {
	case d.notify <- snap:
		return true
	default:
		return false
	}
}

// Run consumes notifications and drives heartbeats until the context is
// cancelled or Shutdown is called.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		case snap := <-d.notify:
			d.emitBucketUpdate(snap)
		case <-ticker.C:
			d.emitHeartbeat()
			cutoff := d.now().Add(-staleMultiplier * d.heartbeatInterval)
			if evicted := d.reg.EvictStale(cutoff); evicted > 0 {
				d.logger.Info(ctx, "evicted stale subscriptions",
					logger.Int("count", evicted),
				)
			}
		}
	}
}

// Shutdown stops the dispatcher and closes every subscription.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	close(d.shutdown)

	select {
	case <-d.done:
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}

	for _, sub := range d.reg.All() {
		d.reg.Remove(sub.ID)
	}
	return nil
}

// Subscribe registers a new subscription and computes the replay needed to
// resume from lastID. A lastID of zero means "live only, no replay". When the
// cursor is too old for a gap-free resume, the subscription is still created
// and resync is true; the caller signals the client to rebuild via a query.
func (d *Dispatcher) Subscribe(subject string, resolution model.Resolution, lastID uint64) (*Subscription, []model.StreamEvent, bool, error) {
	select {
	case <-d.shutdown:
		return nil, nil, false, ErrClosed
	default:
	}

	sub, err := d.reg.Add(subject, resolution)
	if err != nil {
		return nil, nil, false, err
	}

	if lastID == 0 {
		return sub, nil, false, nil
	}

	// Holding emitMu makes the replay snapshot and the switch to live
	// delivery atomic with respect to emission: every event is either in
	// the returned replay slice or in the subscription buffer, never lost.
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	replay, err := d.ring.ReplaySince(lastID)
	if err != nil {
		metrics.RecordReplayResync()
		return sub, nil, true, nil
	}
	return sub, replay, false, nil
}

// Unsubscribe removes a subscription. Unknown ids are a no-op.
func (d *Dispatcher) Unsubscribe(id string) {
	d.reg.Remove(id)
}

// SubscriptionCount returns the number of live subscriptions.
func (d *Dispatcher) SubscriptionCount() int {
	return d.reg.Len()
}

// Stream serves one subscription to a sink: replay first, then live events
// until the context ends, the subscription is evicted, or the sink fails.
func (d *Dispatcher) Stream(ctx context.Context, sub *Subscription, replay []model.StreamEvent, sink Sink) error {
	defer d.reg.Remove(sub.ID)

	for _, ev := range replay {
		if err := d.send(sink, sub, ev); err != nil {
			return err
		}
	}
	if err := sink.Flush(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return nil
		case ev := <-sub.ch:
			if err := d.send(sink, sub, ev); err != nil {
				return err
			}
			if err := sink.Flush(); err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) send(sink Sink, sub *Subscription, ev model.StreamEvent) error {
	if err := sink.Send(ev); err != nil {
		return fmt.Errorf("sink send: %w", err)
	}
	sub.MarkDelivered(d.now())
	return nil
}

// emitBucketUpdate stamps, records, and fans out one bucket change.
func (d *Dispatcher) emitBucketUpdate(snap model.BucketSnapshot) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.seq++
	ev := model.NewBucketUpdate(snap)
	ev.ID = d.seq

	d.ring.Append(ev)
	metrics.RecordStreamEventEmitted(string(ev.Kind))

	for _, sub := range d.reg.Matching(snap.Key) {
		sub.offer(ev)
	}
}

// emitHeartbeat sends the liveness signal to every subscription. Heartbeats
// consume event ids and enter the replay log so a resumed cursor never sees
// an id gap.
func (d *Dispatcher) emitHeartbeat() {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.seq++
	ev := model.StreamEvent{
		ID:   d.seq,
		Kind: model.KindHeartbeat,
		Heartbeat: &model.HeartbeatPayload{
			ServerTime:        d.now(),
			ActiveConnections: d.reg.Len(),
		},
	}

	d.ring.Append(ev)
	metrics.RecordStreamEventEmitted(string(ev.Kind))

	for _, sub := range d.reg.All() {
		sub.offer(ev)
	}
}

package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moodline/moodline/internal/domain/model"
	"github.com/moodline/moodline/pkg/metrics"
)

// Default registry configuration constants.
const (
	defaultMaxSubscriptions = 100
	defaultSendBuffer       = 32

	// SubjectWildcard subscribes to bucket updates for every subject.
	SubjectWildcard = "*"
)

// Subscription is one live subscriber connection. Events are delivered through
// a bounded buffer with drop-oldest overflow, so a slow consumer sees the
// freshest updates rather than stalling the dispatcher.
type Subscription struct {
	ID         string
	Subject    string
	Resolution model.Resolution // zero value matches every resolution
	CreatedAt  time.Time

	ch   chan model.StreamEvent
	done chan struct{}

	mu            sync.Mutex
	closed        bool
	lastDelivered time.Time
}

// Events returns the subscription's delivery channel.
func (s *Subscription) Events() <-chan model.StreamEvent { return s.ch }

// Done is closed when the subscription is evicted or unregistered.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// MarkDelivered records that the consumer made progress. Subscriptions that
// stop making progress are evicted by the dispatcher's heartbeat tick.
func (s *Subscription) MarkDelivered(now time.Time) {
	s.mu.Lock()
	s.lastDelivered = now
	s.mu.Unlock()
}

func (s *Subscription) lastProgress() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDelivered
}

// matches reports whether the subscription's filter accepts a bucket key.
func (s *Subscription) matches(key model.BucketKey) bool {
	if s.Subject != SubjectWildcard && s.Subject != key.Subject {
		return false
	}
	if s.Resolution != 0 && s.Resolution != key.Resolution {
		return false
	}
	return true
}

// offer delivers an event without blocking. When the buffer is full the
// oldest buffered event is dropped to make room.
func (s *Subscription) offer(ev model.StreamEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.ch <- ev:
		return
	default:
	}

	// Buffer full: drop the oldest and retry once.
	select {
	case <-s.ch:
		metrics.RecordStreamEventDropped()
	default:
	}
	select {
	case s.ch <- ev:
	default:
		metrics.RecordStreamEventDropped()
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// Registry tracks live subscriptions up to a fixed capacity.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
	max  int
	buf  int
	now  func() time.Time
}

// NewRegistry creates a subscription registry.
func NewRegistry(maxSubscriptions, sendBuffer int, now func() time.Time) *Registry {
	if maxSubscriptions <= 0 {
		maxSubscriptions = defaultMaxSubscriptions
	}
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		subs: make(map[string]*Subscription),
		max:  maxSubscriptions,
		buf:  sendBuffer,
		now:  now,
	}
}

// Add registers a new subscription. It returns ErrCapacityExceeded when the
// registry is full and ErrInvalidFilter for an empty subject.
func (r *Registry) Add(subject string, resolution model.Resolution) (*Subscription, error) {
	if subject == "" {
		return nil, ErrInvalidFilter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.subs) >= r.max {
		return nil, ErrCapacityExceeded
	}

	now := r.now()
	sub := &Subscription{
		ID:            uuid.NewString(),
		Subject:       subject,
		Resolution:    resolution,
		CreatedAt:     now,
		ch:            make(chan model.StreamEvent, r.buf),
		done:          make(chan struct{}),
		lastDelivered: now,
	}
	r.subs[sub.ID] = sub
	metrics.UpdateActiveSubscriptions(len(r.subs))
	return sub, nil
}

// Remove unregisters and closes a subscription. Removing an unknown id is a
// no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	count := len(r.subs)
	r.mu.Unlock()

	if ok {
		sub.close()
		metrics.UpdateActiveSubscriptions(count)
	}
}

// Matching returns the subscriptions whose filter accepts the given key.
func (r *Registry) Matching(key model.BucketKey) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, sub := range r.subs {
		if sub.matches(key) {
			out = append(out, sub)
		}
	}
	return out
}

// All returns every live subscription.
func (r *Registry) All() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// EvictStale removes subscriptions whose consumer has not made progress since
// the cutoff. It returns the number of evicted subscriptions.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.RLock()
	var stale []*Subscription
	for _, sub := range r.subs {
		if sub.lastProgress().Before(cutoff) {
			stale = append(stale, sub)
		}
	}
	r.mu.RUnlock()

	for _, sub := range stale {
		r.Remove(sub.ID)
		metrics.RecordSubscriptionEvicted()
	}
	return len(stale)
}

package stream_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	stream "github.com/moodline/moodline/internal/adapters/stream"
	model "github.com/moodline/moodline/internal/domain/model"
	logging "github.com/moodline/moodline/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logging.Init(); err != nil {
		panic(err)
	}
}

func partialSnapshot(subject string, res time.Duration) model.BucketSnapshot {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return model.BucketSnapshot{
		Key: model.BucketKey{
			Subject:     subject,
			Resolution:  model.Resolution(res),
			BucketStart: start,
		},
		Count:     3,
		SumScore:  1.2,
		MinScore:  -0.1,
		MaxScore:  0.8,
		IsPartial: true,
	}
}

// collect drains events from a subscription until count is reached or the
// timeout passes.
func collect(sub *stream.Subscription, count int, timeout time.Duration) []model.StreamEvent {
	var out []model.StreamEvent
	deadline := time.After(timeout)
	for len(out) < count {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestDispatcher_FanOut(t *testing.T) {
	convey.Convey("Given a running dispatcher with three subscribers", t, func() {
		d := stream.NewDispatcher(stream.WithHeartbeatInterval(time.Hour))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go d.Run(ctx)

		wildcard, _, _, err := d.Subscribe(stream.SubjectWildcard, 0, 0)
		convey.So(err, convey.ShouldBeNil)
		exact, _, _, err := d.Subscribe("AAPL", 0, 0)
		convey.So(err, convey.ShouldBeNil)
		other, _, _, err := d.Subscribe("TSLA", 0, 0)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When a bucket update for AAPL is published", func() {
			convey.So(d.Publish(partialSnapshot("AAPL", time.Minute)), convey.ShouldBeTrue)

			convey.Convey("Then matching subscribers receive it and others do not", func() {
				wcEvents := collect(wildcard, 1, 2*time.Second)
				exEvents := collect(exact, 1, 2*time.Second)
				convey.So(len(wcEvents), convey.ShouldEqual, 1)
				convey.So(len(exEvents), convey.ShouldEqual, 1)
				convey.So(wcEvents[0].Kind, convey.ShouldEqual, model.KindBucketUpdate)
				convey.So(wcEvents[0].BucketUpdate.Subject, convey.ShouldEqual, "AAPL")
				convey.So(wcEvents[0].ID, convey.ShouldEqual, exEvents[0].ID)

				convey.So(len(collect(other, 1, 100*time.Millisecond)), convey.ShouldEqual, 0)
			})
		})
	})
}

func TestDispatcher_ResumeReplay(t *testing.T) {
	convey.Convey("Given a dispatcher that has emitted events", t, func() {
		d := stream.NewDispatcher(stream.WithHeartbeatInterval(time.Hour))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go d.Run(ctx)

		probe, _, _, err := d.Subscribe("AAPL", 0, 0)
		convey.So(err, convey.ShouldBeNil)

		for i := 0; i < 5; i++ {
			convey.So(d.Publish(partialSnapshot("AAPL", time.Minute)), convey.ShouldBeTrue)
		}
		received := collect(probe, 5, 2*time.Second)
		convey.So(len(received), convey.ShouldEqual, 5)
		convey.So(received[4].ID, convey.ShouldEqual, 5)

		convey.Convey("When a subscriber resumes from event 3", func() {
			sub, replay, resync, err := d.Subscribe("AAPL", 0, 3)
			defer d.Unsubscribe(sub.ID)

			convey.Convey("Then it receives exactly the missed events", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(resync, convey.ShouldBeFalse)
				convey.So(len(replay), convey.ShouldEqual, 2)
				convey.So(replay[0].ID, convey.ShouldEqual, 4)
				convey.So(replay[1].ID, convey.ShouldEqual, 5)
			})
		})

		convey.Convey("When a subscriber resumes from the head", func() {
			sub, replay, resync, err := d.Subscribe("AAPL", 0, 5)
			defer d.Unsubscribe(sub.ID)

			convey.Convey("Then nothing is replayed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(resync, convey.ShouldBeFalse)
				convey.So(len(replay), convey.ShouldEqual, 0)
			})
		})
	})
}

func TestDispatcher_ResyncWhenCursorTooOld(t *testing.T) {
	convey.Convey("Given a dispatcher with a tiny replay log", t, func() {
		d := stream.NewDispatcher(
			stream.WithHeartbeatInterval(time.Hour),
			stream.WithReplayLog(2, time.Hour),
		)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go d.Run(ctx)

		probe, _, _, err := d.Subscribe("AAPL", 0, 0)
		convey.So(err, convey.ShouldBeNil)

		for i := 0; i < 5; i++ {
			convey.So(d.Publish(partialSnapshot("AAPL", time.Minute)), convey.ShouldBeTrue)
		}
		convey.So(len(collect(probe, 5, 2*time.Second)), convey.ShouldEqual, 5)

		convey.Convey("When a subscriber resumes from an evicted cursor", func() {
			sub, replay, resync, err := d.Subscribe("AAPL", 0, 1)
			defer d.Unsubscribe(sub.ID)

			convey.Convey("Then it is told to resync instead of replaying", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(resync, convey.ShouldBeTrue)
				convey.So(len(replay), convey.ShouldEqual, 0)
			})
		})
	})
}

func TestDispatcher_ResyncWhenCursorAheadOfEmission(t *testing.T) {
	convey.Convey("Given a dispatcher that has emitted two events", t, func() {
		d := stream.NewDispatcher(stream.WithHeartbeatInterval(time.Hour))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go d.Run(ctx)

		probe, _, _, err := d.Subscribe("AAPL", 0, 0)
		convey.So(err, convey.ShouldBeNil)

		for i := 0; i < 2; i++ {
			convey.So(d.Publish(partialSnapshot("AAPL", time.Minute)), convey.ShouldBeTrue)
		}
		convey.So(len(collect(probe, 2, 2*time.Second)), convey.ShouldEqual, 2)

		convey.Convey("When a subscriber resumes with a cursor from a previous process", func() {
			sub, replay, resync, err := d.Subscribe("AAPL", 0, 42)
			defer d.Unsubscribe(sub.ID)

			convey.Convey("Then it is told to resync, not served a gapped stream", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(resync, convey.ShouldBeTrue)
				convey.So(len(replay), convey.ShouldEqual, 0)
			})
		})
	})
}

func TestDispatcher_CapacityExceeded(t *testing.T) {
	convey.Convey("Given a dispatcher with capacity one", t, func() {
		d := stream.NewDispatcher(
			stream.WithHeartbeatInterval(time.Hour),
			stream.WithMaxSubscriptions(1),
		)

		_, _, _, err := d.Subscribe("AAPL", 0, 0)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When a second subscriber arrives", func() {
			_, _, _, err := d.Subscribe("TSLA", 0, 0)

			convey.Convey("Then it is rejected", func() {
				convey.So(errors.Is(err, stream.ErrCapacityExceeded), convey.ShouldBeTrue)
			})
		})
	})
}

func TestDispatcher_SubscribeAfterShutdown(t *testing.T) {
	convey.Convey("Given a dispatcher that has been shut down", t, func() {
		d := stream.NewDispatcher(stream.WithHeartbeatInterval(time.Hour))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go d.Run(ctx)

		convey.So(d.Shutdown(context.Background()), convey.ShouldBeNil)

		convey.Convey("When a client tries to subscribe", func() {
			sub, _, _, err := d.Subscribe("AAPL", 0, 0)

			convey.Convey("Then the subscription is refused", func() {
				convey.So(sub, convey.ShouldBeNil)
				convey.So(errors.Is(err, stream.ErrClosed), convey.ShouldBeTrue)
			})
		})
	})
}

func TestDispatcher_Heartbeat(t *testing.T) {
	convey.Convey("Given a dispatcher with a fast heartbeat", t, func() {
		d := stream.NewDispatcher(stream.WithHeartbeatInterval(20 * time.Millisecond))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go d.Run(ctx)

		sub, _, _, err := d.Subscribe("AAPL", 0, 0)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Then heartbeats reach subscribers whose filter matches nothing else", func() {
			events := collect(sub, 1, 2*time.Second)
			convey.So(len(events), convey.ShouldEqual, 1)
			convey.So(events[0].Kind, convey.ShouldEqual, model.KindHeartbeat)
			convey.So(events[0].Heartbeat, convey.ShouldNotBeNil)
			convey.So(events[0].Heartbeat.ActiveConnections, convey.ShouldEqual, 1)
			convey.So(events[0].ID, convey.ShouldBeGreaterThan, 0)
		})
	})
}

// bufferSink collects events in memory for Stream serve-loop tests.
type bufferSink struct {
	mu     sync.Mutex
	events []model.StreamEvent
}

func (b *bufferSink) Send(ev model.StreamEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *bufferSink) Flush() error { return nil }

func (b *bufferSink) snapshot() []model.StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.StreamEvent, len(b.events))
	copy(out, b.events)
	return out
}

func TestDispatcher_StreamServesReplayThenLive(t *testing.T) {
	convey.Convey("Given a dispatcher with history", t, func() {
		d := stream.NewDispatcher(stream.WithHeartbeatInterval(time.Hour))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go d.Run(ctx)

		probe, _, _, err := d.Subscribe("AAPL", 0, 0)
		convey.So(err, convey.ShouldBeNil)
		for i := 0; i < 3; i++ {
			convey.So(d.Publish(partialSnapshot("AAPL", time.Minute)), convey.ShouldBeTrue)
		}
		convey.So(len(collect(probe, 3, 2*time.Second)), convey.ShouldEqual, 3)

		convey.Convey("When a resumed subscription is served to a sink", func() {
			sub, replay, resync, err := d.Subscribe("AAPL", 0, 1)
			convey.So(err, convey.ShouldBeNil)
			convey.So(resync, convey.ShouldBeFalse)

			sink := &bufferSink{}
			serveCtx, serveCancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- d.Stream(serveCtx, sub, replay, sink) }()

			// One live event after the replayed history.
			convey.So(d.Publish(partialSnapshot("AAPL", time.Minute)), convey.ShouldBeTrue)

			convey.Convey("Then the sink sees replay and live events in id order", func() {
				deadline := time.Now().Add(2 * time.Second)
				for time.Now().Before(deadline) {
					if len(sink.snapshot()) >= 3 {
						break
					}
					time.Sleep(5 * time.Millisecond)
				}

				events := sink.snapshot()
				convey.So(len(events), convey.ShouldBeGreaterThanOrEqualTo, 3)
				for i := 1; i < len(events); i++ {
					convey.So(events[i].ID, convey.ShouldBeGreaterThan, events[i-1].ID)
				}
				convey.So(events[0].ID, convey.ShouldEqual, 2)

				serveCancel()
				convey.So(<-done, convey.ShouldBeNil)
			})
		})
	})
}

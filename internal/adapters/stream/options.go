package stream

import "time"

type config struct {
	notifyBuffer      int
	maxSubscriptions  int
	sendBuffer        int
	replaySize        int
	replayAge         time.Duration
	heartbeatInterval time.Duration
	now               func() time.Time
}

func defaultConfig() *config {
	return &config{
		notifyBuffer:      defaultNotifyBuffer,
		maxSubscriptions:  defaultMaxSubscriptions,
		sendBuffer:        defaultSendBuffer,
		replaySize:        defaultReplaySize,
		replayAge:         defaultReplayAge,
		heartbeatInterval: defaultHeartbeatInterval,
		now:               time.Now,
	}
}

// Option configures a Dispatcher.
type Option func(*config)

// WithNotifyBuffer sets the capacity of the worker-facing notify channel.
func WithNotifyBuffer(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.notifyBuffer = size
		}
	}
}

// WithMaxSubscriptions caps the number of concurrent subscriptions.
func WithMaxSubscriptions(max int) Option {
	return func(c *config) {
		if max > 0 {
			c.maxSubscriptions = max
		}
	}
}

// WithSendBuffer sets the per-subscription delivery buffer.
func WithSendBuffer(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.sendBuffer = size
		}
	}
}

// WithReplayLog bounds the replay log by event count and age.
func WithReplayLog(size int, maxAge time.Duration) Option {
	return func(c *config) {
		if size > 0 {
			c.replaySize = size
		}
		if maxAge > 0 {
			c.replayAge = maxAge
		}
	}
}

// WithHeartbeatInterval sets the heartbeat cadence. Stale-subscription
// eviction runs on the same tick.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *config) {
		if interval > 0 {
			c.heartbeatInterval = interval
		}
	}
}

// WithNowFunc overrides the clock, used in tests.
func WithNowFunc(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

package repository

import "time"

// storeConfig carries construction-time settings shared by store implementations.
type storeConfig struct {
	shardCount int
	now        func() time.Time
	keyPrefix  string
}

// Option applies a configuration option to a store.
type Option func(*storeConfig)

// WithShardCount sets the number of shards in the memory store.
func WithShardCount(count int) Option {
	return func(c *storeConfig) {
		if count > 0 {
			c.shardCount = count
		}
	}
}

// WithNowFunc overrides the clock used to derive bucket partiality, for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(c *storeConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithKeyPrefix sets the key namespace used by the redis store.
func WithKeyPrefix(prefix string) Option {
	return func(c *storeConfig) {
		if prefix != "" {
			c.keyPrefix = prefix
		}
	}
}

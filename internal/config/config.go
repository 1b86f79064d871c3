// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Layer file and environment overrides in Load.
// - External errors must be wrapped via this package's error helpers.
package config

import "runtime"

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// EventQueueSize bounds the in-memory event queue.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of aggregation workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize caps the idempotency set.
	DedupeSize int `koanf:"dedupe_size"`

	// DedupeWindowHours bounds how long event ids are remembered. It should
	// cover at least the backfill window.
	DedupeWindowHours int `koanf:"dedupe_window_hours"`

	// Resolutions lists the bucket resolutions, e.g. ["1m","5m","1h"].
	// Empty means the built-in default set.
	Resolutions []string `koanf:"resolutions"`

	// BackfillWindowHours caps how far in the past an event may land and
	// still be accepted.
	BackfillWindowHours int `koanf:"backfill_window_hours"`

	// ShardCount configures the number of shards in the in-memory bucket store.
	ShardCount int `koanf:"shard_count"`

	// StoreBackend selects the bucket/staging store: "memory" or "redis".
	StoreBackend string `koanf:"store_backend"`

	// RedisAddr, RedisPassword, and RedisDB configure the redis backend.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// RedisKeyPrefix namespaces every redis key written by this process.
	RedisKeyPrefix string `koanf:"redis_key_prefix"`

	// HeartbeatIntervalSec sets the stream heartbeat cadence.
	HeartbeatIntervalSec int `koanf:"heartbeat_interval_sec"`

	// MaxSubscriptions caps concurrent stream subscriptions.
	MaxSubscriptions int `koanf:"max_subscriptions"`

	// SendBufferSize is the per-subscription delivery buffer.
	SendBufferSize int `koanf:"send_buffer_size"`

	// ReplayLogSize and ReplayLogAgeSec bound the stream replay log.
	ReplayLogSize   int `koanf:"replay_log_size"`
	ReplayLogAgeSec int `koanf:"replay_log_age_sec"`

	// SweepIntervalSec sets the reconciliation sweep cadence.
	SweepIntervalSec int `koanf:"sweep_interval_sec"`

	// StalenessThresholdSec sets how old a pending event must be before the
	// sweeper republishes it.
	StalenessThresholdSec int `koanf:"staleness_threshold_sec"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		Addr:                  ":9080",
		EventQueueSize:        100_000,
		WorkerCount:           runtime.NumCPU() * 2,
		DedupeSize:            500_000,
		DedupeWindowHours:     24,
		Resolutions:           nil,
		BackfillWindowHours:   24,
		ShardCount:            8,
		StoreBackend:          "memory",
		RedisAddr:             "localhost:6379",
		RedisKeyPrefix:        "moodline",
		HeartbeatIntervalSec:  30,
		MaxSubscriptions:      100,
		SendBufferSize:        32,
		ReplayLogSize:         200,
		ReplayLogAgeSec:       300,
		SweepIntervalSec:      60,
		StalenessThresholdSec: 600,
	}
}

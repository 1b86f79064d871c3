package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/moodline/moodline/internal/domain/bucketing"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if MOODLINE_CONFIG is set
//  3. env (prefix MOODLINE_)
func Load() (*Config, error) {
	// Start with defaults
	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("MOODLINE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: MOODLINE_ADDR, MOODLINE_QUEUE_SIZE, ...
	// Map env keys like MOODLINE_QUEUE_SIZE -> queue_size (flat keys)
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("MOODLINE_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "moodline_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.StoreBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: store_backend must be memory or redis, got %q", ErrInvalidConfig, c.StoreBackend)
	}
	if c.StoreBackend == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("%w: redis_addr must not be empty for the redis backend", ErrInvalidConfig)
	}
	if len(c.Resolutions) > 0 {
		if _, err := bucketing.ParseResolutions(c.Resolutions); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if c.StalenessThresholdSec > 0 && c.SweepIntervalSec > c.StalenessThresholdSec {
		return fmt.Errorf("%w: sweep_interval_sec must not exceed staleness_threshold_sec", ErrInvalidConfig)
	}
	return nil
}

package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/moodline/moodline/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func clearConfigEnvVars() {
	vars := []string{
		"MOODLINE_CONFIG",
		"MOODLINE_ADDR",
		"MOODLINE_LOG_LEVEL",
		"MOODLINE_QUEUE_SIZE",
		"MOODLINE_WORKER_COUNT",
		"MOODLINE_STORE_BACKEND",
		"MOODLINE_REDIS_ADDR",
		"MOODLINE_HEARTBEAT_INTERVAL_SEC",
		"MOODLINE_MAX_SUBSCRIPTIONS",
		"MOODLINE_SWEEP_INTERVAL_SEC",
		"MOODLINE_STALENESS_THRESHOLD_SEC",
	}
	for _, v := range vars {
		_ = os.Unsetenv(v)
	}
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 100_000)
				convey.So(cfg.StoreBackend, convey.ShouldEqual, "memory")
				convey.So(cfg.HeartbeatIntervalSec, convey.ShouldEqual, 30)
				convey.So(cfg.MaxSubscriptions, convey.ShouldEqual, 100)
				convey.So(cfg.SweepIntervalSec, convey.ShouldEqual, 60)
				convey.So(cfg.StalenessThresholdSec, convey.ShouldEqual, 600)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("MOODLINE_ADDR", ":8080")
			_ = os.Setenv("MOODLINE_QUEUE_SIZE", "50000")
			_ = os.Setenv("MOODLINE_MAX_SUBSCRIPTIONS", "250")
			_ = os.Setenv("MOODLINE_STORE_BACKEND", "redis")
			_ = os.Setenv("MOODLINE_REDIS_ADDR", "redis:6379")
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 50000)
				convey.So(cfg.MaxSubscriptions, convey.ShouldEqual, 250)
				convey.So(cfg.StoreBackend, convey.ShouldEqual, "redis")
				convey.So(cfg.RedisAddr, convey.ShouldEqual, "redis:6379")
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			clearConfigEnvVars()

			dir := t.TempDir()
			path := filepath.Join(dir, "moodline.yaml")
			yaml := "addr: \":7070\"\nworker_count: 4\nresolutions:\n  - 1m\n  - 1h\n"
			convey.So(os.WriteFile(path, []byte(yaml), 0o600), convey.ShouldBeNil)
			_ = os.Setenv("MOODLINE_CONFIG", path)
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then file values override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
				convey.So(cfg.Resolutions, convey.ShouldResemble, []string{"1m", "1h"})
			})
		})

		convey.Convey("When the store backend is invalid", func() {
			clearConfigEnvVars()
			_ = os.Setenv("MOODLINE_STORE_BACKEND", "postgres")
			defer clearConfigEnvVars()

			_, err := config.Load()

			convey.Convey("Then loading fails with ErrInvalidConfig", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a resolution cannot be parsed", func() {
			clearConfigEnvVars()

			dir := t.TempDir()
			path := filepath.Join(dir, "moodline.yaml")
			convey.So(os.WriteFile(path, []byte("resolutions:\n  - bogus\n"), 0o600), convey.ShouldBeNil)
			_ = os.Setenv("MOODLINE_CONFIG", path)
			defer clearConfigEnvVars()

			_, err := config.Load()

			convey.Convey("Then loading fails with ErrInvalidConfig", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

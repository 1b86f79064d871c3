package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moodline/moodline/internal/adapters/http/api"
	repository "github.com/moodline/moodline/internal/adapters/repository"
	staging "github.com/moodline/moodline/internal/adapters/staging"
	app "github.com/moodline/moodline/internal/app"
	"github.com/moodline/moodline/internal/config"
	"github.com/moodline/moodline/internal/domain/bucketing"
	"github.com/moodline/moodline/pkg/logger"
	"github.com/moodline/moodline/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 0 // streaming responses must not be cut off
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	loggerInstance := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	opts := []app.Option{
		app.WithLogger(loggerInstance),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.EventQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithDedupeWindow(time.Duration(cfg.DedupeWindowHours) * time.Hour),
		app.WithBackfillWindow(time.Duration(cfg.BackfillWindowHours) * time.Hour),
		app.WithShardCount(cfg.ShardCount),
		app.WithHeartbeatInterval(time.Duration(cfg.HeartbeatIntervalSec) * time.Second),
		app.WithMaxSubscriptions(cfg.MaxSubscriptions),
		app.WithSendBufferSize(cfg.SendBufferSize),
		app.WithReplayLog(cfg.ReplayLogSize, time.Duration(cfg.ReplayLogAgeSec)*time.Second),
		app.WithSweepInterval(time.Duration(cfg.SweepIntervalSec) * time.Second),
		app.WithStalenessThreshold(time.Duration(cfg.StalenessThresholdSec) * time.Second),
	}

	if len(cfg.Resolutions) > 0 {
		resolutions, err := bucketing.ParseResolutions(cfg.Resolutions)
		if err != nil {
			os.Stderr.WriteString("invalid resolutions: " + err.Error() + "\n")
			return
		}
		opts = append(opts, app.WithResolutions(resolutions))
	}

	if cfg.StoreBackend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			os.Stderr.WriteString("redis unreachable: " + err.Error() + "\n")
			return
		}
		opts = append(opts,
			app.WithBucketStore(repository.NewRedisStore(client, repository.WithKeyPrefix(cfg.RedisKeyPrefix))),
			app.WithStagingStore(staging.NewRedisStore(client, cfg.RedisKeyPrefix)),
		)
		loggerInstance.Info(ctx, "using redis stores", logger.String("addr", cfg.RedisAddr))
	}

	// Create and start the service with configuration options
	svc := app.New(opts...)
	if err := svc.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}
	defer svc.Stop()

	// Start service metrics updater
	go startServiceMetricsUpdater(ctx, svc)

	// HTTP mux and routes.
	mux := http.NewServeMux()

	// Register business API routes with the service dependency.
	apiServer := api.NewServer(svc, svc)
	apiServer.Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Start the HTTP server
	go func() {
		loggerInstance.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
			return
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	loggerInstance.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	loggerInstance.Info(ctx, "server stopped")
}

// startServiceMetricsUpdater refreshes the queue and subscription gauges on a
// fixed cadence; GetStats pushes them into the metrics registry.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := svc.GetStats()
			if queueLen, ok := stats["queueLength"].(int); ok {
				metrics.UpdateQueueSize(queueLen)
			}
		}
	}
}

// Package sweeper reconciles staged events that never finished aggregating.
//
// Events pause in the staging store between ingestion and aggregation; a
// crash, a dropped queue write, or a store outage can leave them pending
// forever. The sweeper periodically scans for pending events older than a
// staleness threshold and republishes each one to the aggregation pipeline,
// where the idempotency check makes redundant republication harmless.
package sweeper

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/moodline/moodline/internal/adapters/staging"
	"github.com/moodline/moodline/internal/domain/model"
	"github.com/moodline/moodline/pkg/logger"
	"github.com/moodline/moodline/pkg/metrics"
)

// Default sweeper configuration constants.
const (
	defaultSweepInterval      = 60 * time.Second
	defaultStalenessThreshold = 600 * time.Second
	defaultScanPageSize       = 100
	defaultRepublishTimeout   = 5 * time.Second
)

// State describes what the sweeper is currently doing.
type State string

// Sweeper states.
const (
	StateIdle         State = "idle"
	StateScanning     State = "scanning"
	StateRepublishing State = "republishing"
)

// Submitter re-enters an event into the aggregation pipeline. The submission
// must be idempotent downstream.
type Submitter interface {
	Resubmit(ctx context.Context, e model.ScoredEvent) error
}

// Scanner is the staging-store subset the sweeper reads and marks.
type Scanner interface {
	ScanStale(ctx context.Context, status model.ProcessingStatus, before time.Time, cursor string, limit int) ([]model.StagedEvent, string, error)
	MarkSwept(ctx context.Context, id string, at time.Time) error
}

// Sweeper periodically reconciles stale pending events.
type Sweeper struct {
	scanner   Scanner
	submitter Submitter

	interval  time.Duration
	staleness time.Duration
	pageSize  int
	timeout   time.Duration
	now       func() time.Time

	state atomic.Value // State

	// Shutdown control
	shutdown chan struct{}
	done     chan struct{}

	// Logging
	logger logger.Logger
}

// New creates a sweeper with configuration options.
func New(scanner Scanner, submitter Submitter, opts ...Option) *Sweeper {
	s := &Sweeper{
		scanner:   scanner,
		submitter: submitter,
		interval:  defaultSweepInterval,
		staleness: defaultStalenessThreshold,
		pageSize:  defaultScanPageSize,
		timeout:   defaultRepublishTimeout,
		now:       time.Now,
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger.Get().Named("sweeper"),
	}
	s.state.Store(StateIdle)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// State returns the sweeper's current phase.
func (s *Sweeper) State() State {
	return s.state.Load().(State)
}

// Run sweeps on the configured interval until the context is cancelled or
// Shutdown is called.
func (s *Sweeper) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				metrics.RecordSweeperError()
				s.logger.Error(ctx, "sweep cycle failed", logger.Error(err))
			}
		}
	}
}

// Shutdown stops the sweep loop.
func (s *Sweeper) Shutdown(ctx context.Context) error {
	close(s.shutdown)

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sweeper shutdown: %w", ctx.Err())
	}
}

// Sweep runs one full reconciliation cycle: scan every page of stale pending
// events and republish each one. A failing item is logged and skipped so one
// poisoned event cannot stall the rest of the backlog.
func (s *Sweeper) Sweep(ctx context.Context) error {
	start := s.now()
	defer func() {
		s.state.Store(StateIdle)
		metrics.RecordSweeperCycleDuration(float64(s.now().Sub(start).Milliseconds()))
	}()

	s.state.Store(StateScanning)
	cutoff := start.Add(-s.staleness)

	var (
		scanned int
		cursor  string
	)
	for {
		page, next, err := s.scanner.ScanStale(ctx, model.StatusPending, cutoff, cursor, s.pageSize)
		if err != nil {
			return fmt.Errorf("scan stale pending events: %w", err)
		}
		if len(page) == 0 && next == "" {
			break
		}
		scanned += len(page)

		s.state.Store(StateRepublishing)
		for i := range page {
			if err := s.republish(ctx, page[i]); err != nil {
				metrics.RecordSweeperError()
				s.logger.Warn(ctx, "republish failed",
					logger.String("eventID", page[i].Event.ID),
					logger.Error(err),
				)
				continue
			}
			metrics.RecordSweeperReconciled()
		}
		s.state.Store(StateScanning)

		if next == "" {
			break
		}
		cursor = next

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.shutdown:
			return nil
		default:
		}
	}

	metrics.RecordSweeperScanned(scanned)
	if scanned > 0 {
		s.logger.Info(ctx, "sweep cycle reconciled stale events",
			logger.Int("scanned", scanned),
		)
	}
	return nil
}

// republish re-submits one staged event and records the attempt so the next
// cycle does not immediately re-select it.
func (s *Sweeper) republish(ctx context.Context, staged model.StagedEvent) error {
	subCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.submitter.Resubmit(subCtx, staged.Event); err != nil {
		return fmt.Errorf("resubmit: %w", err)
	}
	if err := s.scanner.MarkSwept(ctx, staged.Event.ID, s.now()); err != nil {
		return fmt.Errorf("mark swept: %w", err)
	}
	return nil
}

var _ Scanner = (staging.Store)(nil)

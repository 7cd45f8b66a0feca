package scheduler

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/elonfeng/timeline-digest/pkg/digest"
)

// Source is the run source recorded for scheduled runs.
const Source = "scheduled"

// DailyRunner starts a daily digest run.
type DailyRunner interface {
	RunDaily(ctx context.Context, opts digest.RunOptions) (*digest.RunResult, error)
}

// Scheduler triggers the daily digest on a fixed interval.
type Scheduler struct {
	runner     DailyRunner
	interval   time.Duration
	runOnStart bool
	dryRun     bool
	logger     *log.Logger
}

// New creates a new scheduler.
func New(runner DailyRunner, interval time.Duration, runOnStart, dryRun bool, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Scheduler{
		runner:     runner,
		interval:   interval,
		runOnStart: runOnStart,
		dryRun:     dryRun,
		logger:     logger,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.runOnStart {
		s.logger.Info("scheduler: initial run")
		s.trigger(ctx)
	}

	s.logger.Info("scheduler: running", "every", s.interval, "dry_run", s.dryRun)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	res, err := s.runner.RunDaily(ctx, digest.RunOptions{Source: Source, DryRun: s.dryRun})
	if err != nil {
		s.logger.Error("scheduled run error", "err", err)
		return
	}
	s.logger.Info("scheduled run done", "status", res.Status, "reason", res.Reason, "subject", res.Subject)
}

// Package coordinator serializes digest runs. At most one run is active at
// a time across every trigger; a run that cannot take the lock is reported
// as skipped without side effects.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/elonfeng/timeline-digest/pkg/digest"
)

// DefaultLockTTL bounds how long a crashed run can block new runs.
const DefaultLockTTL = 15 * time.Minute

// ReasonAlreadyRunning is the skip reason when another run holds the lock.
const ReasonAlreadyRunning = "digest already running"

// Snapshot is the last completed run.
type Snapshot struct {
	At     time.Time         `json:"at"`
	Result *digest.RunResult `json:"result"`
}

// State holds the run lock and the last snapshot.
type State interface {
	// Acquire takes the lock until now+ttl if it is free or expired.
	Acquire(ctx context.Context, now time.Time, ttl time.Duration) (bool, error)
	// Finish stores the snapshot and releases the lock.
	Finish(ctx context.Context, snap Snapshot) error
	// Last returns the last snapshot, or nil if no run has completed.
	Last(ctx context.Context) (*Snapshot, error)
}

// Runner is the pipeline the coordinator guards.
type Runner interface {
	RunDaily(ctx context.Context, opts digest.RunOptions) (*digest.RunResult, error)
	Run(ctx context.Context, requestedDays int, opts digest.RunOptions) (*digest.RunResult, error)
}

// Coordinator runs digest tasks under a time-boxed lock.
type Coordinator struct {
	state  State
	runner Runner
	ttl    time.Duration
	logger *log.Logger
	now    func() time.Time
}

// New creates a coordinator. A non-positive ttl uses DefaultLockTTL.
func New(state State, runner Runner, ttl time.Duration, logger *log.Logger) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Coordinator{state: state, runner: runner, ttl: ttl, logger: logger, now: time.Now}
}

// RunDaily runs today's digest under the lock.
func (c *Coordinator) RunDaily(ctx context.Context, opts digest.RunOptions) (*digest.RunResult, error) {
	return c.runLocked(ctx, opts, func(ctx context.Context) (*digest.RunResult, error) {
		return c.runner.RunDaily(ctx, opts)
	})
}

// Backfill runs a multi-day digest under the lock.
func (c *Coordinator) Backfill(ctx context.Context, opts digest.RunOptions, days int) (*digest.RunResult, error) {
	return c.runLocked(ctx, opts, func(ctx context.Context) (*digest.RunResult, error) {
		return c.runner.Run(ctx, days, opts)
	})
}

// LastResult returns the last completed run, or nil if none.
func (c *Coordinator) LastResult(ctx context.Context) (*Snapshot, error) {
	return c.state.Last(ctx)
}

func (c *Coordinator) runLocked(ctx context.Context, opts digest.RunOptions, task func(context.Context) (*digest.RunResult, error)) (*digest.RunResult, error) {
	ok, err := c.state.Acquire(ctx, c.now(), c.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		c.logger.Info("run skipped", "source", opts.Source, "reason", ReasonAlreadyRunning)
		return digest.Skipped(ReasonAlreadyRunning), nil
	}

	result, err := task(ctx)
	if err != nil {
		c.logger.Error("run failed", "source", opts.Source, "err", err)
		result = digest.Failed(err)
	} else if result == nil {
		result = digest.Skipped("no result")
	}

	// Finish must run even when the caller's context is done, or the
	// lock stays held until it expires.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.state.Finish(finishCtx, Snapshot{At: c.now().UTC(), Result: result}); err != nil {
		return result, fmt.Errorf("store run result: %w", err)
	}
	c.logger.Info("run finished", "source", opts.Source, "status", result.Status)
	return result, nil
}

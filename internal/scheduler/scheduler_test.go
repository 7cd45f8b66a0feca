package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/elonfeng/timeline-digest/pkg/digest"
)

type countingRunner struct {
	mu    sync.Mutex
	opts  []digest.RunOptions
	err   error
	ready chan struct{}
}

func (r *countingRunner) RunDaily(ctx context.Context, opts digest.RunOptions) (*digest.RunResult, error) {
	r.mu.Lock()
	r.opts = append(r.opts, opts)
	n := len(r.opts)
	r.mu.Unlock()
	if n == 2 {
		close(r.ready)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &digest.RunResult{Status: digest.StatusDryRun}, nil
}

func TestSchedulerRunsOnStartAndOnTick(t *testing.T) {
	r := &countingRunner{ready: make(chan struct{})}
	s := New(r, 10*time.Millisecond, true, true, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-r.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not trigger twice")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts[0].Source != Source || !r.opts[0].DryRun {
		t.Fatalf("unexpected options %+v", r.opts[0])
	}
}

func TestSchedulerSurvivesRunErrors(t *testing.T) {
	r := &countingRunner{ready: make(chan struct{}), err: errors.New("boom")}
	s := New(r, 5*time.Millisecond, false, false, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case <-r.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler stopped after an error")
	}
}

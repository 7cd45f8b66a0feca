package coordinator

import (
	"context"
	"sync"
	"time"
)

// MemoryState keeps the lock and snapshot in process memory. It serves
// the "memory" lock store, where one serve process owns every run and the
// last result does not survive a restart.
type MemoryState struct {
	mu        sync.Mutex
	lockUntil *time.Time
	last      *Snapshot
}

// NewMemoryState creates an empty in-memory state.
func NewMemoryState() *MemoryState {
	return &MemoryState{}
}

func (m *MemoryState) Acquire(ctx context.Context, now time.Time, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockUntil != nil && now.Before(*m.lockUntil) {
		return false, nil
	}
	until := now.Add(ttl)
	m.lockUntil = &until
	return true, nil
}

func (m *MemoryState) Finish(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockUntil = nil
	m.last = &snap
	return nil
}

func (m *MemoryState) Last(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil, nil
	}
	snap := *m.last
	return &snap, nil
}

// LockUntil returns the current lock deadline, if any.
func (m *MemoryState) LockUntil() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockUntil == nil {
		return time.Time{}, false
	}
	return *m.lockUntil, true
}

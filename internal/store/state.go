package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/timeline-digest/internal/coordinator"
)

// CoordinatorState keeps the run lock and last snapshot in one row of
// coordinator_state so that separate processes share them.
type CoordinatorState struct {
	store *SQLiteStore
	name  string
}

// CoordinatorState returns the durable state row with the given name.
func (s *SQLiteStore) CoordinatorState(name string) *CoordinatorState {
	if name == "" {
		name = "digest"
	}
	return &CoordinatorState{store: s, name: name}
}

// Acquire sets lock_until only if the lock is free or expired, so two
// concurrent callers cannot both succeed.
func (c *CoordinatorState) Acquire(ctx context.Context, now time.Time, ttl time.Duration) (bool, error) {
	db := c.store.db
	if _, err := db.ExecContext(ctx, "INSERT OR IGNORE INTO coordinator_state (name) VALUES (?)", c.name); err != nil {
		return false, fmt.Errorf("init coordinator state: %w", err)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE coordinator_state SET lock_until = ?
		WHERE name = ? AND (lock_until IS NULL OR lock_until <= ?)
	`, now.Add(ttl).UnixMilli(), c.name, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return n == 1, nil
}

func (c *CoordinatorState) Finish(ctx context.Context, snap coordinator.Snapshot) error {
	resultJSON, err := json.Marshal(snap.Result)
	if err != nil {
		return fmt.Errorf("marshal run result: %w", err)
	}
	_, err = c.store.db.ExecContext(ctx, `
		UPDATE coordinator_state SET lock_until = NULL, last_run_at = ?, last_result_json = ?
		WHERE name = ?
	`, formatTime(snap.At), string(resultJSON), c.name)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (c *CoordinatorState) Last(ctx context.Context) (*coordinator.Snapshot, error) {
	var row struct {
		At     sql.NullString `db:"last_run_at"`
		Result sql.NullString `db:"last_result_json"`
	}
	err := c.store.db.GetContext(ctx, &row,
		"SELECT last_run_at, last_result_json FROM coordinator_state WHERE name = ?", c.name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load last run: %w", err)
	}
	if !row.At.Valid || !row.Result.Valid {
		return nil, nil
	}

	snap := &coordinator.Snapshot{}
	if snap.At, err = time.Parse(time.RFC3339Nano, row.At.String); err != nil {
		return nil, fmt.Errorf("parse last run time: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Result.String), &snap.Result); err != nil {
		return nil, fmt.Errorf("parse last run result: %w", err)
	}
	return snap, nil
}

// LockUntil returns the current lock deadline, if any.
func (c *CoordinatorState) LockUntil(ctx context.Context) (time.Time, bool, error) {
	var ms sql.NullInt64
	err := c.store.db.GetContext(ctx, &ms, "SELECT lock_until FROM coordinator_state WHERE name = ?", c.name)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !ms.Valid) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load lock: %w", err)
	}
	return time.UnixMilli(ms.Int64).UTC(), true, nil
}

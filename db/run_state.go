// ABOUTME: Database operations for the sync_state table
// ABOUTME: Records the start, outcome, and counters of each sync run for status surfaces
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/harperreed/fieldsync/models"
)

// Sync run statuses.
const (
	RunIdle    = "idle"
	RunSyncing = "syncing"
	RunError   = "error"
)

// RunState is the persisted summary of the most recent sync run.
type RunState struct {
	Service        string
	LastSyncTime   *time.Time
	LastSyncResult *string
	Status         string
	ErrorMessage   *string
	Attempted      int
	Succeeded      int
	Failed         int
	DeadLettered   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RunCounts are the per-run counters stored alongside the result.
type RunCounts struct {
	Attempted    int
	Succeeded    int
	Failed       int
	DeadLettered int
}

// GetRunState retrieves the run state for a service, or nil if it never ran.
func GetRunState(ctx context.Context, db *sql.DB, service string) (*RunState, error) {
	var state RunState
	var lastSyncTime sql.NullInt64
	var lastResult, errorMessage sql.NullString
	var createdAt, updatedAt int64

	err := db.QueryRowContext(ctx, `
		SELECT service, last_sync_time, last_sync_result, status, error_message,
			attempted, succeeded, failed, dead_lettered, created_at, updated_at
		FROM sync_state
		WHERE service = ?
	`, service).Scan(
		&state.Service,
		&lastSyncTime,
		&lastResult,
		&state.Status,
		&errorMessage,
		&state.Attempted,
		&state.Succeeded,
		&state.Failed,
		&state.DeadLettered,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get run state", err)
	}

	state.CreatedAt = models.FromMillis(createdAt)
	state.UpdatedAt = models.FromMillis(updatedAt)
	if lastSyncTime.Valid {
		ts := models.FromMillis(lastSyncTime.Int64)
		state.LastSyncTime = &ts
	}
	if lastResult.Valid {
		state.LastSyncResult = &lastResult.String
	}
	if errorMessage.Valid {
		state.ErrorMessage = &errorMessage.String
	}
	return &state, nil
}

// StartRun takes the run lease for holder and marks the service as syncing.
// It fails with ErrRunHeld while a different holder is syncing and has
// renewed its lease within staleAfter. A lapsed lease belongs to a process
// that died mid-run and is taken over.
func StartRun(ctx context.Context, db *sql.DB, service, holder string, ts time.Time, staleAfter time.Duration) error {
	now := models.Millis(ts)
	res, err := db.ExecContext(ctx, `
		INSERT INTO sync_state (service, status, holder, created_at, updated_at)
		VALUES (?, 'syncing', ?, ?, ?)
		ON CONFLICT(service) DO UPDATE SET
			status = 'syncing',
			holder = excluded.holder,
			error_message = NULL,
			updated_at = excluded.updated_at
		WHERE sync_state.status != 'syncing'
			OR sync_state.holder IS NULL
			OR sync_state.holder = excluded.holder
			OR sync_state.updated_at < ?
	`, service, holder, now, now, models.Millis(ts.Add(-staleAfter)))
	if err != nil {
		return storageErr("start run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("start run %s: %w", service, ErrRunHeld)
	}
	return nil
}

// RenewRun extends holder's lease. ErrRunHeld means the lease lapsed and
// another process took the run over.
func RenewRun(ctx context.Context, db *sql.DB, service, holder string, ts time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE sync_state SET updated_at = ?
		WHERE service = ? AND status = 'syncing' AND holder = ?
	`, models.Millis(ts), service, holder)
	if err != nil {
		return storageErr("renew run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("renew run %s: %w", service, ErrRunHeld)
	}
	return nil
}

// FinishRun records the outcome of holder's run and releases the lease. A
// non-nil errMsg leaves the service in the error status.
func FinishRun(ctx context.Context, db *sql.DB, service, holder, result string, counts RunCounts, errMsg *string, ts time.Time) error {
	status := RunIdle
	var errVal sql.NullString
	if errMsg != nil {
		status = RunError
		errVal = sql.NullString{String: *errMsg, Valid: true}
	}

	res, err := db.ExecContext(ctx, `
		UPDATE sync_state SET
			last_sync_time = ?,
			last_sync_result = ?,
			status = ?,
			error_message = ?,
			holder = NULL,
			attempted = ?,
			succeeded = ?,
			failed = ?,
			dead_lettered = ?,
			updated_at = ?
		WHERE service = ? AND holder = ?
	`, models.Millis(ts), result, status, errVal,
		counts.Attempted, counts.Succeeded, counts.Failed, counts.DeadLettered, models.Millis(ts),
		service, holder)
	if err != nil {
		return storageErr("finish run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", service, ErrRunHeld)
	}
	return nil
}

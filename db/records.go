// ABOUTME: Shared Local Store operations for entity tables that carry sync metadata
// ABOUTME: Sync markers, deletes, and retention sweeps are identical for visits and prospects
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/harperreed/fieldsync/models"
)

// recordTable implements the table-agnostic half of a Local Store.
type recordTable struct {
	db    *sql.DB
	table string
}

const syncColumns = "synced, sync_attempts, last_sync_attempt, last_sync_error"

// MarkSynced flags the record as delivered and clears its last error.
func (t recordTable) MarkSynced(ctx context.Context, id string, ts time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET synced = 1, last_sync_attempt = ?, last_sync_error = NULL WHERE id = ?`, t.table)
	return t.execOne(ctx, "mark synced", query, models.Millis(ts), id)
}

// IncrementSyncAttempt records a failed delivery attempt against the record.
func (t recordTable) IncrementSyncAttempt(ctx context.Context, id string, ts time.Time, syncErr string) error {
	query := fmt.Sprintf(`UPDATE %s SET synced = 0, sync_attempts = sync_attempts + 1, last_sync_attempt = ?, last_sync_error = ? WHERE id = ?`, t.table)
	return t.execOne(ctx, "increment sync attempt", query, models.Millis(ts), syncErr, id)
}

// Delete removes the record. Deleting a missing id is not an error.
func (t recordTable) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t.table)
	if _, err := t.db.ExecContext(ctx, query, id); err != nil {
		return storageErr("delete "+t.table, err)
	}
	return nil
}

// DeleteOlderThan removes records last updated before cutoff. With onlySynced
// set, records still awaiting delivery are kept regardless of age.
func (t recordTable) DeleteOlderThan(ctx context.Context, cutoff time.Time, onlySynced bool) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE updated_at < ?`, t.table)
	if onlySynced {
		query += ` AND synced = 1`
	}
	res, err := t.db.ExecContext(ctx, query, models.Millis(cutoff))
	if err != nil {
		return 0, storageErr("delete old "+t.table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountUnsynced returns how many records have not reached the remote store.
func (t recordTable) CountUnsynced(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE synced = 0`, t.table)
	if err := t.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, storageErr("count unsynced "+t.table, err)
	}
	return n, nil
}

func (t recordTable) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, t.table, ErrNotFound)
	}
	return nil
}

// syncMetaDest holds the nullable sync columns during a scan.
type syncMetaDest struct {
	synced      bool
	attempts    int
	lastAttempt sql.NullInt64
	lastError   sql.NullString
}

func (d *syncMetaDest) targets() []any {
	return []any{&d.synced, &d.attempts, &d.lastAttempt, &d.lastError}
}

func (d *syncMetaDest) apply(m *models.SyncMeta) {
	m.Synced = d.synced
	m.SyncAttempts = d.attempts
	m.LastSyncAttempt = nil
	m.LastSyncError = nil
	if d.lastAttempt.Valid {
		ts := models.FromMillis(d.lastAttempt.Int64)
		m.LastSyncAttempt = &ts
	}
	if d.lastError.Valid {
		msg := d.lastError.String
		m.LastSyncError = &msg
	}
}

func syncMetaArgs(m models.SyncMeta) []any {
	var lastAttempt, lastError any
	if m.LastSyncAttempt != nil {
		lastAttempt = models.Millis(*m.LastSyncAttempt)
	}
	if m.LastSyncError != nil {
		lastError = *m.LastSyncError
	}
	return []any{m.Synced, m.SyncAttempts, lastAttempt, lastError}
}

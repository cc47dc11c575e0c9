// ABOUTME: Sync Ledger DAO for pending remote mutations
// ABOUTME: Enqueue with supersede, eligibility ordering, guarded status transitions, and housekeeping
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/harperreed/fieldsync/models"
)

// Ledger is the durable queue of mutations awaiting delivery.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// SetClock replaces the ledger's time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

const itemColumns = `id, entityType, entityId, operation, dataJson, status, priority, attempts, maxAttempts, lastAttemptAt, errorMessage, createdAt, updatedAt, scheduledAt`

// Enqueue records a mutation for later delivery and returns the ledger id.
// If the entity already has a PENDING or FAILED item, that item is rewritten
// with the merged operation and the new snapshot, keeping its attempt count.
// An item that is currently SYNCING is left alone and a new row is added.
func (l *Ledger) Enqueue(ctx context.Context, item *models.SyncItem) (int64, error) {
	if item.MaxAttempts <= 0 {
		item.MaxAttempts = models.DefaultMaxAttempts
	}
	now := models.Millis(l.now())

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("enqueue", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID int64
	var existingOp string
	err = tx.QueryRowContext(ctx, `
		SELECT id, operation FROM sync_items
		WHERE entityType = ? AND entityId = ? AND status IN ('PENDING', 'FAILED')
	`, item.EntityType, item.EntityID).Scan(&existingID, &existingOp)

	switch {
	case err == nil:
		op := models.MergeOperations(models.Operation(existingOp), item.Operation)
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_items
			SET operation = ?, dataJson = ?, status = 'PENDING', priority = ?, scheduledAt = NULL, updatedAt = ?
			WHERE id = ?
		`, op, item.DataJSON, item.Priority, now, existingID)
		if err != nil {
			return 0, storageErr("supersede sync item", err)
		}
		item.ID = existingID
		item.Operation = op

	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sync_items (entityType, entityId, operation, dataJson, status, priority, attempts, maxAttempts, createdAt, updatedAt)
			VALUES (?, ?, ?, ?, 'PENDING', ?, 0, ?, ?, ?)
		`, item.EntityType, item.EntityID, item.Operation, item.DataJSON, item.Priority, item.MaxAttempts, now, now)
		if err != nil {
			return 0, storageErr("insert sync item", err)
		}
		if item.ID, err = res.LastInsertId(); err != nil {
			return 0, storageErr("insert sync item", err)
		}
		item.Attempts = 0
		item.CreatedAt = now

	default:
		return 0, storageErr("find open sync item", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("enqueue", err)
	}
	item.Status = models.StatusPending
	item.ScheduledAt = nil
	item.UpdatedAt = now
	return item.ID, nil
}

// GetEligible returns PENDING and FAILED items whose retry time has passed,
// highest priority first, then oldest first.
func (l *Ledger) GetEligible(ctx context.Context, now time.Time) ([]models.SyncItem, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM sync_items
		WHERE status IN ('PENDING', 'FAILED') AND (scheduledAt IS NULL OR scheduledAt <= ?)
		ORDER BY priority DESC, createdAt ASC, id ASC
	`, models.Millis(now))
	if err != nil {
		return nil, storageErr("get eligible", err)
	}
	return collectItems(rows)
}

// MarkSyncing claims an eligible item for delivery.
func (l *Ledger) MarkSyncing(ctx context.Context, id int64) error {
	_, err := l.Claim(ctx, id)
	return err
}

// Claim marks an eligible item SYNCING and returns the row as it stood at
// the moment of the claim. A supersede that landed after the item was listed
// is therefore the snapshot that gets delivered.
func (l *Ledger) Claim(ctx context.Context, id int64) (*models.SyncItem, error) {
	now := models.Millis(l.now())
	rows, err := l.db.QueryContext(ctx, `
		UPDATE sync_items SET status = 'SYNCING', lastAttemptAt = ?, updatedAt = ?
		WHERE id = ? AND status IN ('PENDING', 'FAILED')
		RETURNING `+itemColumns, now, now, id)
	if err != nil {
		return nil, storageErr("mark syncing", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, l.unchanged(ctx, "mark syncing", id)
	}
	return &items[0], nil
}

// MarkCompleted records successful delivery of a SYNCING item.
func (l *Ledger) MarkCompleted(ctx context.Context, id int64, ts time.Time) error {
	return l.transition(ctx, "mark completed", id, `
		UPDATE sync_items SET status = 'COMPLETED', errorMessage = NULL, scheduledAt = NULL, updatedAt = ?
		WHERE id = ? AND status = 'SYNCING'
	`, models.Millis(ts), id)
}

// MarkFailed records a failed delivery, bumps attempts, and schedules the
// retry. If the entity was re-enqueued while this item was in flight, the
// newer item already carries the latest intent and this one is dropped.
func (l *Ledger) MarkFailed(ctx context.Context, id int64, syncErr string, nextRetryAt, ts time.Time) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("mark failed", err)
	}
	defer func() { _ = tx.Rollback() }()

	superseded, err := supersededInTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if superseded {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_items WHERE id = ?`, id); err != nil {
			return storageErr("drop superseded sync item", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE sync_items
			SET status = 'FAILED', attempts = attempts + 1, errorMessage = ?, scheduledAt = ?, lastAttemptAt = ?, updatedAt = ?
			WHERE id = ? AND status = 'SYNCING'
		`, syncErr, models.Millis(nextRetryAt), models.Millis(ts), models.Millis(ts), id)
		if err != nil {
			return storageErr("mark failed", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("mark failed %d: %w", id, ErrInvalidTransition)
		}
	}

	return storageErr("mark failed", tx.Commit())
}

// ReleaseSyncing returns an in-flight item to PENDING without counting an
// attempt. Used when a run is cancelled mid-delivery.
func (l *Ledger) ReleaseSyncing(ctx context.Context, id int64) error {
	_, err := l.resetSyncing(ctx, `SELECT id FROM sync_items WHERE id = ? AND status = 'SYNCING'`, id)
	return err
}

// ResetStuckSyncing returns SYNCING items last touched before olderThan to
// PENDING. A crash mid-run otherwise strands them forever.
func (l *Ledger) ResetStuckSyncing(ctx context.Context, olderThan time.Time) (int64, error) {
	return l.resetSyncing(ctx, `
		SELECT id FROM sync_items WHERE status = 'SYNCING' AND updatedAt < ? ORDER BY id DESC
	`, models.Millis(olderThan))
}

// ResetAllSyncing returns every SYNCING item to PENDING. Only the holder of
// the run lease may call it, since any SYNCING row it sees was stranded by a
// run that no longer holds the lease.
func (l *Ledger) ResetAllSyncing(ctx context.Context) (int64, error) {
	return l.resetSyncing(ctx, `SELECT id FROM sync_items WHERE status = 'SYNCING' ORDER BY id DESC`)
}

func (l *Ledger) resetSyncing(ctx context.Context, selectIDs string, args ...any) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("reset syncing", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, selectIDs, args...)
	if err != nil {
		return 0, storageErr("reset syncing", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, storageErr("reset syncing", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, storageErr("reset syncing", err)
	}

	now := models.Millis(l.now())
	for _, id := range ids {
		superseded, err := supersededInTx(ctx, tx, id)
		if err != nil {
			return 0, err
		}
		if superseded {
			_, err = tx.ExecContext(ctx, `DELETE FROM sync_items WHERE id = ?`, id)
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE sync_items SET status = 'PENDING', updatedAt = ? WHERE id = ?`, now, id)
		}
		if err != nil {
			return 0, storageErr("reset syncing", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("reset syncing", err)
	}
	return int64(len(ids)), nil
}

// supersededInTx reports whether another open item exists for the same
// entity as id.
func supersededInTx(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_items o
		JOIN sync_items s ON s.entityType = o.entityType AND s.entityId = o.entityId
		WHERE s.id = ? AND o.id != s.id AND o.status IN ('PENDING', 'FAILED')
	`, id).Scan(&n)
	if err != nil {
		return false, storageErr("check superseded", err)
	}
	return n > 0, nil
}

// HasOpen reports whether the entity has a PENDING or FAILED item.
func (l *Ledger) HasOpen(ctx context.Context, entityType models.EntityType, entityID string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_items
		WHERE entityType = ? AND entityId = ? AND status IN ('PENDING', 'FAILED')
	`, entityType, entityID).Scan(&n)
	if err != nil {
		return false, storageErr("check open item", err)
	}
	return n > 0, nil
}

// HasUndelivered reports whether the entity has any item not yet COMPLETED,
// in flight or not.
func (l *Ledger) HasUndelivered(ctx context.Context, entityType models.EntityType, entityID string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_items
		WHERE entityType = ? AND entityId = ? AND status != 'COMPLETED'
	`, entityType, entityID).Scan(&n)
	if err != nil {
		return false, storageErr("check undelivered", err)
	}
	return n > 0, nil
}

// OpenEntityIDs returns the ids of entities of the given type that still have
// undelivered items, including in-flight ones.
func (l *Ledger) OpenEntityIDs(ctx context.Context, entityType models.EntityType) (map[string]bool, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT DISTINCT entityId FROM sync_items WHERE entityType = ? AND status != 'COMPLETED'
	`, entityType)
	if err != nil {
		return nil, storageErr("open entity ids", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("open entity ids", err)
		}
		ids[id] = true
	}
	return ids, storageErr("open entity ids", rows.Err())
}

// DeleteCompletedOlderThan removes COMPLETED items last updated before cutoff.
func (l *Ledger) DeleteCompletedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM sync_items WHERE status = 'COMPLETED' AND updatedAt < ?`, models.Millis(cutoff))
	if err != nil {
		return 0, storageErr("delete completed", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteExceededAttempts dead-letters items that used up their retry budget.
// In-flight items are skipped.
func (l *Ledger) DeleteExceededAttempts(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM sync_items WHERE attempts >= maxAttempts AND status IN ('PENDING', 'FAILED')`)
	if err != nil {
		return 0, storageErr("delete exceeded", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Delete removes a single item regardless of status.
func (l *Ledger) Delete(ctx context.Context, id int64) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM sync_items WHERE id = ?`, id); err != nil {
		return storageErr("delete sync item", err)
	}
	return nil
}

// Retry makes a FAILED item eligible immediately. An item that exhausted its
// budget gets exactly one more attempt.
func (l *Ledger) Retry(ctx context.Context, id int64) error {
	return l.transition(ctx, "retry", id, `
		UPDATE sync_items
		SET status = 'PENDING', scheduledAt = NULL, updatedAt = ?,
			maxAttempts = CASE WHEN attempts >= maxAttempts THEN attempts + 1 ELSE maxAttempts END
		WHERE id = ? AND status = 'FAILED'
	`, models.Millis(l.now()), id)
}

// Get returns a single item or nil if it does not exist.
func (l *Ledger) Get(ctx context.Context, id int64) (*models.SyncItem, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM sync_items WHERE id = ?`, id)
	if err != nil {
		return nil, storageErr("get sync item", err)
	}
	items, err := collectItems(rows)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// ListFilter narrows List results. Zero values mean no filter.
type ListFilter struct {
	Status     models.Status
	EntityType models.EntityType
	EntityID   string
	Limit      int
}

// List returns items matching filter in eligibility order.
func (l *Ledger) List(ctx context.Context, filter ListFilter) ([]models.SyncItem, error) {
	query := `SELECT ` + itemColumns + ` FROM sync_items WHERE 1 = 1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.EntityType != "" {
		query += ` AND entityType = ?`
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		query += ` AND entityId = ?`
		args = append(args, filter.EntityID)
	}
	query += ` ORDER BY priority DESC, createdAt ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list sync items", err)
	}
	return collectItems(rows)
}

// Stats counts items per status. Statuses with no items are present with 0.
func (l *Ledger) Stats(ctx context.Context) (map[models.Status]int, error) {
	stats := map[models.Status]int{
		models.StatusPending:   0,
		models.StatusSyncing:   0,
		models.StatusFailed:    0,
		models.StatusCompleted: 0,
	}
	rows, err := l.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_items GROUP BY status`)
	if err != nil {
		return nil, storageErr("ledger stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, storageErr("ledger stats", err)
		}
		stats[models.Status(status)] = n
	}
	return stats, storageErr("ledger stats", rows.Err())
}

// PendingCount is the number of mutations not yet delivered.
func (l *Ledger) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_items WHERE status != 'COMPLETED'`).Scan(&n)
	if err != nil {
		return 0, storageErr("pending count", err)
	}
	return n, nil
}

func (l *Ledger) transition(ctx context.Context, op string, id int64, query string, args ...any) error {
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageErr(op, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return l.unchanged(ctx, op, id)
}

// unchanged explains why an update matched no row.
func (l *Ledger) unchanged(ctx context.Context, op string, id int64) error {
	var exists int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_items WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return storageErr(op, err)
	}
	if exists == 0 {
		return fmt.Errorf("%s %d: %w", op, id, ErrNotFound)
	}
	return fmt.Errorf("%s %d: %w", op, id, ErrInvalidTransition)
}

func collectItems(rows *sql.Rows) ([]models.SyncItem, error) {
	defer rows.Close()

	var items []models.SyncItem
	for rows.Next() {
		var it models.SyncItem
		var lastAttempt, scheduled sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&it.ID, &it.EntityType, &it.EntityID, &it.Operation, &it.DataJSON, &it.Status,
			&it.Priority, &it.Attempts, &it.MaxAttempts, &lastAttempt, &errMsg, &it.CreatedAt, &it.UpdatedAt, &scheduled); err != nil {
			return nil, storageErr("scan sync item", err)
		}
		if lastAttempt.Valid {
			it.LastAttemptAt = &lastAttempt.Int64
		}
		if errMsg.Valid {
			it.ErrorMessage = &errMsg.String
		}
		if scheduled.Valid {
			it.ScheduledAt = &scheduled.Int64
		}
		items = append(items, it)
	}
	return items, storageErr("scan sync items", rows.Err())
}

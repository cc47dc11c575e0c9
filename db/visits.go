// ABOUTME: Local Store for visits and check-ins
// ABOUTME: Upsert-on-insert, lazy per-owner iteration, and unsynced listing
package db

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"time"

	"github.com/harperreed/fieldsync/models"
)

// VisitStore persists visits in the local database.
type VisitStore struct {
	recordTable
}

func NewVisitStore(db *sql.DB) *VisitStore {
	return &VisitStore{recordTable{db: db, table: "visits"}}
}

const visitColumns = `id, owner_id, prospect_id, kind, notes, latitude, longitude, visited_at, created_at, updated_at, ` + syncColumns

// Insert writes the visit, replacing any existing row with the same id.
func (s *VisitStore) Insert(ctx context.Context, v *models.Visit) error {
	stampVisit(v)
	args := append([]any{
		v.ID, v.OwnerID, v.ProspectID, v.Kind, v.Notes, v.Latitude, v.Longitude,
		models.Millis(v.VisitedAt), models.Millis(v.CreatedAt), models.Millis(v.UpdatedAt),
	}, syncMetaArgs(v.SyncMeta)...)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO visits (`+visitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			prospect_id = excluded.prospect_id,
			kind = excluded.kind,
			notes = excluded.notes,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			visited_at = excluded.visited_at,
			updated_at = excluded.updated_at,
			synced = excluded.synced,
			sync_attempts = excluded.sync_attempts,
			last_sync_attempt = excluded.last_sync_attempt,
			last_sync_error = excluded.last_sync_error
	`, args...)
	return storageErr("insert visit", err)
}

// Update rewrites an existing visit. Returns ErrNotFound if the id is unknown.
func (s *VisitStore) Update(ctx context.Context, v *models.Visit) error {
	stampVisit(v)
	args := append([]any{
		v.OwnerID, v.ProspectID, v.Kind, v.Notes, v.Latitude, v.Longitude,
		models.Millis(v.VisitedAt), models.Millis(v.UpdatedAt),
	}, syncMetaArgs(v.SyncMeta)...)
	args = append(args, v.ID)

	return s.execOne(ctx, "update", `
		UPDATE visits SET owner_id = ?, prospect_id = ?, kind = ?, notes = ?, latitude = ?, longitude = ?,
			visited_at = ?, updated_at = ?, synced = ?, sync_attempts = ?, last_sync_attempt = ?, last_sync_error = ?
		WHERE id = ?
	`, args...)
}

// GetByID returns the visit or nil if it does not exist.
func (s *VisitStore) GetByID(ctx context.Context, id string) (*models.Visit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = ?`, id)
	v, err := scanVisit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get visit", err)
	}
	return v, nil
}

// GetByOwner lazily yields the owner's visits, newest first. The database
// handle has a single connection, so the loop body must not query the
// database while iterating.
func (s *VisitStore) GetByOwner(ctx context.Context, ownerID string) iter.Seq2[*models.Visit, error] {
	return func(yield func(*models.Visit, error) bool) {
		rows, err := s.db.QueryContext(ctx, `SELECT `+visitColumns+` FROM visits WHERE owner_id = ? ORDER BY visited_at DESC, id`, ownerID)
		if err != nil {
			yield(nil, storageErr("list visits", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			v, err := scanVisit(rows)
			if err != nil {
				yield(nil, storageErr("scan visit", err))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, storageErr("list visits", err))
		}
	}
}

// GetUnsynced returns every visit not yet delivered to the remote store.
func (s *VisitStore) GetUnsynced(ctx context.Context) ([]*models.Visit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+visitColumns+` FROM visits WHERE synced = 0 ORDER BY created_at`)
	if err != nil {
		return nil, storageErr("list unsynced visits", err)
	}
	defer rows.Close()

	var visits []*models.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, storageErr("scan visit", err)
		}
		visits = append(visits, v)
	}
	return visits, storageErr("list unsynced visits", rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisit(row rowScanner) (*models.Visit, error) {
	var v models.Visit
	var visitedAt, createdAt, updatedAt int64
	var meta syncMetaDest

	dest := append([]any{
		&v.ID, &v.OwnerID, &v.ProspectID, &v.Kind, &v.Notes, &v.Latitude, &v.Longitude,
		&visitedAt, &createdAt, &updatedAt,
	}, meta.targets()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	v.VisitedAt = models.FromMillis(visitedAt)
	v.CreatedAt = models.FromMillis(createdAt)
	v.UpdatedAt = models.FromMillis(updatedAt)
	meta.apply(&v.SyncMeta)
	return &v, nil
}

func stampVisit(v *models.Visit) {
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = now
	}
	if v.VisitedAt.IsZero() {
		v.VisitedAt = v.CreatedAt
	}
	if v.Kind == "" {
		v.Kind = models.VisitKindVisit
	}
}

// ABOUTME: Local Store for sales prospects
// ABOUTME: Mirrors the visit store over the prospects table
package db

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"time"

	"github.com/harperreed/fieldsync/models"
)

// ProspectStore persists prospects in the local database.
type ProspectStore struct {
	recordTable
}

func NewProspectStore(db *sql.DB) *ProspectStore {
	return &ProspectStore{recordTable{db: db, table: "prospects"}}
}

const prospectColumns = `id, owner_id, name, company, email, phone, stage, notes, created_at, updated_at, ` + syncColumns

func (s *ProspectStore) Insert(ctx context.Context, p *models.Prospect) error {
	stampProspect(p)
	args := append([]any{
		p.ID, p.OwnerID, p.Name, p.Company, p.Email, p.Phone, p.Stage, p.Notes,
		models.Millis(p.CreatedAt), models.Millis(p.UpdatedAt),
	}, syncMetaArgs(p.SyncMeta)...)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prospects (`+prospectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			company = excluded.company,
			email = excluded.email,
			phone = excluded.phone,
			stage = excluded.stage,
			notes = excluded.notes,
			updated_at = excluded.updated_at,
			synced = excluded.synced,
			sync_attempts = excluded.sync_attempts,
			last_sync_attempt = excluded.last_sync_attempt,
			last_sync_error = excluded.last_sync_error
	`, args...)
	return storageErr("insert prospect", err)
}

func (s *ProspectStore) Update(ctx context.Context, p *models.Prospect) error {
	stampProspect(p)
	args := append([]any{
		p.OwnerID, p.Name, p.Company, p.Email, p.Phone, p.Stage, p.Notes, models.Millis(p.UpdatedAt),
	}, syncMetaArgs(p.SyncMeta)...)
	args = append(args, p.ID)

	return s.execOne(ctx, "update", `
		UPDATE prospects SET owner_id = ?, name = ?, company = ?, email = ?, phone = ?, stage = ?, notes = ?,
			updated_at = ?, synced = ?, sync_attempts = ?, last_sync_attempt = ?, last_sync_error = ?
		WHERE id = ?
	`, args...)
}

func (s *ProspectStore) GetByID(ctx context.Context, id string) (*models.Prospect, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE id = ?`, id)
	p, err := scanProspect(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get prospect", err)
	}
	return p, nil
}

// GetByOwner lazily yields the owner's prospects by name. See
// VisitStore.GetByOwner for the single-connection caveat.
func (s *ProspectStore) GetByOwner(ctx context.Context, ownerID string) iter.Seq2[*models.Prospect, error] {
	return func(yield func(*models.Prospect, error) bool) {
		rows, err := s.db.QueryContext(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE owner_id = ? ORDER BY name, id`, ownerID)
		if err != nil {
			yield(nil, storageErr("list prospects", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanProspect(rows)
			if err != nil {
				yield(nil, storageErr("scan prospect", err))
				return
			}
			if !yield(p, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, storageErr("list prospects", err))
		}
	}
}

func (s *ProspectStore) GetUnsynced(ctx context.Context) ([]*models.Prospect, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE synced = 0 ORDER BY created_at`)
	if err != nil {
		return nil, storageErr("list unsynced prospects", err)
	}
	defer rows.Close()

	var prospects []*models.Prospect
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, storageErr("scan prospect", err)
		}
		prospects = append(prospects, p)
	}
	return prospects, storageErr("list unsynced prospects", rows.Err())
}

func scanProspect(row rowScanner) (*models.Prospect, error) {
	var p models.Prospect
	var createdAt, updatedAt int64
	var meta syncMetaDest

	dest := append([]any{
		&p.ID, &p.OwnerID, &p.Name, &p.Company, &p.Email, &p.Phone, &p.Stage, &p.Notes,
		&createdAt, &updatedAt,
	}, meta.targets()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	p.CreatedAt = models.FromMillis(createdAt)
	p.UpdatedAt = models.FromMillis(updatedAt)
	meta.apply(&p.SyncMeta)
	return &p, nil
}

func stampProspect(p *models.Prospect) {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	if p.Stage == "" {
		p.Stage = models.StageNew
	}
}

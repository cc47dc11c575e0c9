// ABOUTME: Database schema definitions and initialization
// ABOUTME: Creates entity tables, the sync ledger, and the sync run-state table
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS visits (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	prospect_id TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL CHECK(kind IN ('visit', 'check_in')),
	notes TEXT NOT NULL DEFAULT '',
	latitude REAL NOT NULL DEFAULT 0,
	longitude REAL NOT NULL DEFAULT 0,
	visited_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	synced INTEGER NOT NULL DEFAULT 0,
	sync_attempts INTEGER NOT NULL DEFAULT 0,
	last_sync_attempt INTEGER,
	last_sync_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_visits_owner ON visits(owner_id, visited_at);
CREATE INDEX IF NOT EXISTS idx_visits_unsynced ON visits(synced) WHERE synced = 0;

CREATE TABLE IF NOT EXISTS prospects (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	company TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	stage TEXT NOT NULL DEFAULT 'new',
	notes TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	synced INTEGER NOT NULL DEFAULT 0,
	sync_attempts INTEGER NOT NULL DEFAULT 0,
	last_sync_attempt INTEGER,
	last_sync_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_prospects_owner ON prospects(owner_id, name);
CREATE INDEX IF NOT EXISTS idx_prospects_unsynced ON prospects(synced) WHERE synced = 0;

CREATE TABLE IF NOT EXISTS sync_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entityType TEXT NOT NULL CHECK(entityType IN ('VISIT', 'PROSPECT')),
	entityId TEXT NOT NULL,
	operation TEXT NOT NULL CHECK(operation IN ('CREATE', 'UPDATE', 'DELETE')),
	dataJson TEXT NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('PENDING', 'SYNCING', 'FAILED', 'COMPLETED')),
	priority INTEGER NOT NULL DEFAULT 0,
	attempts INTEGER NOT NULL DEFAULT 0,
	maxAttempts INTEGER NOT NULL DEFAULT 5,
	lastAttemptAt INTEGER,
	errorMessage TEXT,
	createdAt INTEGER NOT NULL,
	updatedAt INTEGER NOT NULL,
	scheduledAt INTEGER
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_items_open_entity
	ON sync_items(entityType, entityId) WHERE status IN ('PENDING', 'FAILED');
CREATE INDEX IF NOT EXISTS idx_sync_items_status ON sync_items(status, scheduledAt);
CREATE INDEX IF NOT EXISTS idx_sync_items_order ON sync_items(priority DESC, createdAt ASC);

CREATE TABLE IF NOT EXISTS sync_state (
	service TEXT PRIMARY KEY,
	last_sync_time INTEGER,
	last_sync_result TEXT,
	status TEXT NOT NULL CHECK(status IN ('idle', 'syncing', 'error')),
	error_message TEXT,
	holder TEXT,
	attempted INTEGER NOT NULL DEFAULT 0,
	succeeded INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	dead_lettered INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// InitSchema creates all tables and indexes if they do not already exist.
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	return addRunHolder(db)
}

// addRunHolder brings sync_state tables created before the run lease up to date.
func addRunHolder(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('sync_state') WHERE name = 'holder'`).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = db.Exec(`ALTER TABLE sync_state ADD COLUMN holder TEXT`)
	return err
}

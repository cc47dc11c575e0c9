// ABOUTME: Database connection management and initialization
// ABOUTME: Opens the single shared SQLite handle in WAL mode and applies the schema
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// OpenDatabase opens the SQLite database at path, creating parent directories
// as needed. The returned handle is the only connection the process should
// use; every store, the ledger, and the run-state table share it.
func OpenDatabase(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	// One connection serializes writers and keeps ledger transactions atomic.
	db.SetMaxOpenConns(1)

	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, &StorageError{Op: "init schema", Err: err}
	}

	return db, nil
}

// ABOUTME: Point-in-time view of the sync engine for status surfaces
// ABOUTME: Combines ledger counts, connectivity, and the last recorded run
package sync

import (
	"context"
	"database/sql"

	"github.com/harperreed/fieldsync/db"
	"github.com/harperreed/fieldsync/models"
)

// Status is what the CLI, TUI and MCP server show about synchronization.
type Status struct {
	Connected bool
	Running   bool
	Pending   int
	Counts    map[models.Status]int
	LastRun   *db.RunState
}

// CollectStatus reads the current status. running comes from the host's
// scheduler when there is one.
func CollectStatus(ctx context.Context, appDB *sql.DB, ledger *db.Ledger, monitor Connectivity, running bool) (Status, error) {
	counts, err := ledger.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	lastRun, err := db.GetRunState(ctx, appDB, ServiceName)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Connected: monitor.IsConnected(),
		Running:   running,
		Pending:   counts[models.StatusPending] + counts[models.StatusSyncing] + counts[models.StatusFailed],
		Counts:    counts,
		LastRun:   lastRun,
	}, nil
}

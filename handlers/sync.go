// ABOUTME: Sync MCP tool handlers
// ABOUTME: Implements sync_status, sync_now, and retry_sync_item against the ledger and scheduler
package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/fieldsync/db"
	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/sync"
)

// SyncRunner runs a sync pass on demand.
type SyncRunner interface {
	RunNow(ctx context.Context) (sync.RunReport, error)
	Running() bool
}

type SyncHandlers struct {
	db      *sql.DB
	ledger  *db.Ledger
	monitor sync.Connectivity
	runner  SyncRunner
}

func NewSyncHandlers(database *sql.DB, ledger *db.Ledger, monitor sync.Connectivity, runner SyncRunner) *SyncHandlers {
	return &SyncHandlers{db: database, ledger: ledger, monitor: monitor, runner: runner}
}

type SyncStatusInput struct{}

type RunOutput struct {
	Status       string  `json:"status"`
	Result       *string `json:"result,omitempty"`
	FinishedAt   *string `json:"finished_at,omitempty"`
	Attempted    int     `json:"attempted"`
	Succeeded    int     `json:"succeeded"`
	Failed       int     `json:"failed"`
	DeadLettered int     `json:"dead_lettered"`
	Error        *string `json:"error,omitempty"`
}

type SyncStatusOutput struct {
	Connected bool           `json:"connected"`
	Running   bool           `json:"running"`
	Pending   int            `json:"pending"`
	Counts    map[string]int `json:"counts"`
	LastRun   *RunOutput     `json:"last_run,omitempty"`
}

func (h *SyncHandlers) SyncStatus(ctx context.Context, _ *mcp.CallToolRequest, _ SyncStatusInput) (*mcp.CallToolResult, SyncStatusOutput, error) {
	status, err := sync.CollectStatus(ctx, h.db, h.ledger, h.monitor, h.runner.Running())
	if err != nil {
		return nil, SyncStatusOutput{}, fmt.Errorf("failed to read sync status: %w", err)
	}
	return nil, statusToOutput(status), nil
}

type SyncNowInput struct{}

type SyncNowOutput struct {
	Started      bool   `json:"started"`
	Message      string `json:"message"`
	Result       string `json:"result,omitempty"`
	Attempted    int    `json:"attempted"`
	Succeeded    int    `json:"succeeded"`
	Failed       int    `json:"failed"`
	DeadLettered int    `json:"dead_lettered"`
}

func (h *SyncHandlers) SyncNow(ctx context.Context, _ *mcp.CallToolRequest, _ SyncNowInput) (*mcp.CallToolResult, SyncNowOutput, error) {
	report, err := h.runner.RunNow(ctx)
	if errors.Is(err, sync.ErrRunInProgress) {
		return nil, SyncNowOutput{Message: "a sync run is already in progress"}, nil
	}
	if err != nil {
		return nil, SyncNowOutput{}, fmt.Errorf("sync run failed: %w", err)
	}

	out := SyncNowOutput{
		Started:      true,
		Result:       string(report.Result),
		Attempted:    report.Attempted,
		Succeeded:    report.Succeeded,
		Failed:       report.Failed,
		DeadLettered: report.DeadLettered,
	}
	switch {
	case report.Offline:
		out.Message = "offline, nothing was sent"
	case report.Cancelled:
		out.Message = "run cancelled"
	default:
		out.Message = fmt.Sprintf("delivered %d of %d", report.Succeeded, report.Attempted)
	}
	return nil, out, nil
}

type RetrySyncItemInput struct {
	ID int64 `json:"id" jsonschema:"Ledger item ID (required)"`
}

type RetrySyncItemOutput struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func (h *SyncHandlers) RetrySyncItem(ctx context.Context, _ *mcp.CallToolRequest, input RetrySyncItemInput) (*mcp.CallToolResult, RetrySyncItemOutput, error) {
	if input.ID <= 0 {
		return nil, RetrySyncItemOutput{}, fmt.Errorf("id is required")
	}
	if err := h.ledger.Retry(ctx, input.ID); err != nil {
		return nil, RetrySyncItemOutput{}, fmt.Errorf("failed to retry item %d: %w", input.ID, err)
	}
	return nil, RetrySyncItemOutput{ID: input.ID, Status: string(models.StatusPending)}, nil
}

func statusToOutput(status sync.Status) SyncStatusOutput {
	out := SyncStatusOutput{
		Connected: status.Connected,
		Running:   status.Running,
		Pending:   status.Pending,
		Counts:    make(map[string]int, len(status.Counts)),
	}
	for s, n := range status.Counts {
		out.Counts[string(s)] = n
	}
	if run := status.LastRun; run != nil {
		out.LastRun = &RunOutput{
			Status:       run.Status,
			Result:       run.LastSyncResult,
			Attempted:    run.Attempted,
			Succeeded:    run.Succeeded,
			Failed:       run.Failed,
			DeadLettered: run.DeadLettered,
			Error:        run.ErrorMessage,
		}
		if run.LastSyncTime != nil {
			ts := run.LastSyncTime.Format(time.RFC3339)
			out.LastRun.FinishedAt = &ts
		}
	}
	return out
}

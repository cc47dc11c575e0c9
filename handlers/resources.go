// ABOUTME: MCP resource handlers for exposing sync engine state
// ABOUTME: Provides read-only access to ledger items and run status via fieldsync:// URIs
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/fieldsync/db"
	"github.com/harperreed/fieldsync/sync"
)

const resourceScheme = "fieldsync://"

type ResourceHandlers struct {
	db      *sql.DB
	ledger  *db.Ledger
	monitor sync.Connectivity
}

func NewResourceHandlers(database *sql.DB, ledger *db.Ledger, monitor sync.Connectivity) *ResourceHandlers {
	return &ResourceHandlers{db: database, ledger: ledger, monitor: monitor}
}

// ReadResource handles resource read requests
func (h *ResourceHandlers) ReadResource(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := request.Params.URI
	if !strings.HasPrefix(uri, resourceScheme) {
		return nil, fmt.Errorf("invalid URI scheme: expected %s", resourceScheme)
	}

	parts := strings.Split(strings.TrimPrefix(uri, resourceScheme), "/")
	switch parts[0] {
	case "ledger":
		if len(parts) == 1 || parts[1] == "" {
			return h.readLedger(ctx, uri)
		}
		return h.readLedgerItem(ctx, uri, parts[1])
	case "status":
		return h.readStatus(ctx, uri)
	default:
		return nil, mcp.ResourceNotFoundError(uri)
	}
}

func (h *ResourceHandlers) readLedger(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	items, err := h.ledger.List(ctx, db.ListFilter{Limit: 500})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ledger: %w", err)
	}
	return jsonResource(uri, items)
}

func (h *ResourceHandlers) readLedgerItem(ctx context.Context, uri, rawID string) (*mcp.ReadResourceResult, error) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger item id: %s", rawID)
	}
	item, err := h.ledger.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ledger item: %w", err)
	}
	if item == nil {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	return jsonResource(uri, item)
}

func (h *ResourceHandlers) readStatus(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	status, err := sync.CollectStatus(ctx, h.db, h.ledger, h.monitor, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync status: %w", err)
	}
	return jsonResource(uri, statusToOutput(status))
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}}, nil
}

// ABOUTME: Metrics MCP tool handler
// ABOUTME: Implements get_metrics over the cached metrics read path
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/fieldsync/repository"
)

type MetricsHandlers struct {
	metrics *repository.MetricsService
	ownerID string
}

func NewMetricsHandlers(metrics *repository.MetricsService, ownerID string) *MetricsHandlers {
	return &MetricsHandlers{metrics: metrics, ownerID: ownerID}
}

type GetMetricsInput struct {
	OwnerID    string `json:"owner_id,omitempty" jsonschema:"Sales rep whose metrics to read (defaults to the configured owner)"`
	AllowStale bool   `json:"allow_stale,omitempty" jsonschema:"Return an expired snapshot when no fresh one is available"`
}

type GetMetricsOutput struct {
	Available bool           `json:"available"`
	Stale     bool           `json:"stale"`
	CachedAt  string         `json:"cached_at,omitempty"`
	ExpiresAt string         `json:"expires_at,omitempty"`
	Metrics   map[string]any `json:"metrics,omitempty"`
}

func (h *MetricsHandlers) GetMetrics(ctx context.Context, _ *mcp.CallToolRequest, input GetMetricsInput) (*mcp.CallToolResult, GetMetricsOutput, error) {
	owner := resolveOwner(input.OwnerID, h.ownerID)
	if owner == "" {
		return nil, GetMetricsOutput{}, fmt.Errorf("owner_id is required")
	}

	entry, err := h.metrics.Get(ctx, owner, input.AllowStale)
	if errors.Is(err, repository.ErrNoMetrics) {
		return nil, GetMetricsOutput{}, nil
	}
	if err != nil {
		return nil, GetMetricsOutput{}, fmt.Errorf("failed to read metrics: %w", err)
	}
	var metrics map[string]any
	if err := json.Unmarshal(entry.Data, &metrics); err != nil {
		return nil, GetMetricsOutput{}, fmt.Errorf("failed to decode metrics: %w", err)
	}
	return nil, GetMetricsOutput{
		Available: true,
		Stale:     entry.IsStale,
		CachedAt:  entry.CachedAt.Format(time.RFC3339),
		ExpiresAt: entry.ExpiresAt.Format(time.RFC3339),
		Metrics:   metrics,
	}, nil
}

// ABOUTME: Visit MCP tool handlers
// ABOUTME: Implements add_visit and list_visits over the offline-first repository
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/repository"
)

type VisitHandlers struct {
	visits  *repository.Repository[*models.Visit]
	ownerID string
}

func NewVisitHandlers(visits *repository.Repository[*models.Visit], ownerID string) *VisitHandlers {
	return &VisitHandlers{visits: visits, ownerID: ownerID}
}

type AddVisitInput struct {
	ProspectID string  `json:"prospect_id,omitempty" jsonschema:"Prospect the visit was made to"`
	Kind       string  `json:"kind,omitempty" jsonschema:"visit or check_in (default visit)"`
	Notes      string  `json:"notes,omitempty" jsonschema:"What happened during the visit"`
	Latitude   float64 `json:"latitude,omitempty" jsonschema:"Latitude where the visit took place"`
	Longitude  float64 `json:"longitude,omitempty" jsonschema:"Longitude where the visit took place"`
	Priority   string  `json:"priority,omitempty" jsonschema:"Sync priority: high, normal or low"`
	OwnerID    string  `json:"owner_id,omitempty" jsonschema:"Sales rep the visit belongs to (defaults to the configured owner)"`
}

type VisitOutput struct {
	ID         string  `json:"id"`
	OwnerID    string  `json:"owner_id"`
	ProspectID string  `json:"prospect_id,omitempty"`
	Kind       string  `json:"kind"`
	Notes      string  `json:"notes,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
	VisitedAt  string  `json:"visited_at"`
	Synced     bool    `json:"synced"`
	SyncError  *string `json:"sync_error,omitempty"`
}

func (h *VisitHandlers) AddVisit(ctx context.Context, _ *mcp.CallToolRequest, input AddVisitInput) (*mcp.CallToolResult, VisitOutput, error) {
	kind := input.Kind
	if kind == "" {
		kind = models.VisitKindVisit
	}
	if !models.ValidVisitKind(kind) {
		return nil, VisitOutput{}, fmt.Errorf("invalid kind %q", kind)
	}
	priority, err := models.ParsePriority(input.Priority)
	if err != nil {
		return nil, VisitOutput{}, err
	}
	owner := resolveOwner(input.OwnerID, h.ownerID)
	if owner == "" {
		return nil, VisitOutput{}, fmt.Errorf("owner_id is required")
	}

	visit := &models.Visit{
		OwnerID:    owner,
		ProspectID: input.ProspectID,
		Kind:       kind,
		Notes:      input.Notes,
		Latitude:   input.Latitude,
		Longitude:  input.Longitude,
	}
	if err := h.visits.Create(ctx, visit, priority); err != nil {
		return nil, VisitOutput{}, fmt.Errorf("failed to record visit: %w", err)
	}
	return nil, visitToOutput(visit), nil
}

type ListVisitsInput struct {
	OwnerID    string `json:"owner_id,omitempty" jsonschema:"Sales rep whose visits to list (defaults to the configured owner)"`
	ProspectID string `json:"prospect_id,omitempty" jsonschema:"Only visits to this prospect"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Maximum number of results (default 50)"`
}

type ListVisitsOutput struct {
	Visits []VisitOutput `json:"visits"`
}

func (h *VisitHandlers) ListVisits(ctx context.Context, _ *mcp.CallToolRequest, input ListVisitsInput) (*mcp.CallToolResult, ListVisitsOutput, error) {
	owner := resolveOwner(input.OwnerID, h.ownerID)
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}

	visits, err := h.visits.List(ctx, owner)
	if err != nil {
		return nil, ListVisitsOutput{}, fmt.Errorf("failed to list visits: %w", err)
	}

	out := ListVisitsOutput{Visits: []VisitOutput{}}
	for _, v := range visits {
		if input.ProspectID != "" && v.ProspectID != input.ProspectID {
			continue
		}
		out.Visits = append(out.Visits, visitToOutput(v))
		if len(out.Visits) == limit {
			break
		}
	}
	return nil, out, nil
}

func visitToOutput(v *models.Visit) VisitOutput {
	return VisitOutput{
		ID:         v.ID,
		OwnerID:    v.OwnerID,
		ProspectID: v.ProspectID,
		Kind:       v.Kind,
		Notes:      v.Notes,
		Latitude:   v.Latitude,
		Longitude:  v.Longitude,
		VisitedAt:  v.VisitedAt.Format(time.RFC3339),
		Synced:     v.Synced,
		SyncError:  v.LastSyncError,
	}
}

func resolveOwner(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

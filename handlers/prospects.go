// ABOUTME: Prospect MCP tool handlers
// ABOUTME: Implements add_prospect, list_prospects, and update_prospect over the offline-first repository
package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/repository"
)

type ProspectHandlers struct {
	prospects *repository.Repository[*models.Prospect]
	ownerID   string
}

func NewProspectHandlers(prospects *repository.Repository[*models.Prospect], ownerID string) *ProspectHandlers {
	return &ProspectHandlers{prospects: prospects, ownerID: ownerID}
}

type AddProspectInput struct {
	Name     string `json:"name" jsonschema:"Prospect name (required)"`
	Company  string `json:"company,omitempty" jsonschema:"Company the prospect works for"`
	Email    string `json:"email,omitempty" jsonschema:"Email address"`
	Phone    string `json:"phone,omitempty" jsonschema:"Phone number"`
	Stage    string `json:"stage,omitempty" jsonschema:"new, contacted, qualified, won or lost (default new)"`
	Notes    string `json:"notes,omitempty" jsonschema:"Additional notes"`
	Priority string `json:"priority,omitempty" jsonschema:"Sync priority: high, normal or low"`
	OwnerID  string `json:"owner_id,omitempty" jsonschema:"Sales rep the prospect belongs to (defaults to the configured owner)"`
}

type ProspectOutput struct {
	ID        string  `json:"id"`
	OwnerID   string  `json:"owner_id"`
	Name      string  `json:"name"`
	Company   string  `json:"company,omitempty"`
	Email     string  `json:"email,omitempty"`
	Phone     string  `json:"phone,omitempty"`
	Stage     string  `json:"stage"`
	Notes     string  `json:"notes,omitempty"`
	UpdatedAt string  `json:"updated_at"`
	Synced    bool    `json:"synced"`
	SyncError *string `json:"sync_error,omitempty"`
}

func (h *ProspectHandlers) AddProspect(ctx context.Context, _ *mcp.CallToolRequest, input AddProspectInput) (*mcp.CallToolResult, ProspectOutput, error) {
	if input.Name == "" {
		return nil, ProspectOutput{}, fmt.Errorf("name is required")
	}
	stage := input.Stage
	if stage == "" {
		stage = models.StageNew
	}
	if !models.ValidStage(stage) {
		return nil, ProspectOutput{}, fmt.Errorf("invalid stage %q", stage)
	}
	priority, err := models.ParsePriority(input.Priority)
	if err != nil {
		return nil, ProspectOutput{}, err
	}
	owner := resolveOwner(input.OwnerID, h.ownerID)
	if owner == "" {
		return nil, ProspectOutput{}, fmt.Errorf("owner_id is required")
	}

	prospect := &models.Prospect{
		OwnerID: owner,
		Name:    input.Name,
		Company: input.Company,
		Email:   input.Email,
		Phone:   input.Phone,
		Stage:   stage,
		Notes:   input.Notes,
	}
	if err := h.prospects.Create(ctx, prospect, priority); err != nil {
		return nil, ProspectOutput{}, fmt.Errorf("failed to add prospect: %w", err)
	}
	return nil, prospectToOutput(prospect), nil
}

type ListProspectsInput struct {
	OwnerID string `json:"owner_id,omitempty" jsonschema:"Sales rep whose prospects to list (defaults to the configured owner)"`
	Query   string `json:"query,omitempty" jsonschema:"Search name and company"`
	Stage   string `json:"stage,omitempty" jsonschema:"Only prospects in this stage"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum number of results (default 50)"`
}

type ListProspectsOutput struct {
	Prospects []ProspectOutput `json:"prospects"`
}

func (h *ProspectHandlers) ListProspects(ctx context.Context, _ *mcp.CallToolRequest, input ListProspectsInput) (*mcp.CallToolResult, ListProspectsOutput, error) {
	owner := resolveOwner(input.OwnerID, h.ownerID)
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}

	prospects, err := h.prospects.List(ctx, owner)
	if err != nil {
		return nil, ListProspectsOutput{}, fmt.Errorf("failed to list prospects: %w", err)
	}

	query := strings.ToLower(input.Query)
	out := ListProspectsOutput{Prospects: []ProspectOutput{}}
	for _, p := range prospects {
		if input.Stage != "" && p.Stage != input.Stage {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Name), query) &&
			!strings.Contains(strings.ToLower(p.Company), query) {
			continue
		}
		out.Prospects = append(out.Prospects, prospectToOutput(p))
		if len(out.Prospects) == limit {
			break
		}
	}
	return nil, out, nil
}

type UpdateProspectInput struct {
	ID       string `json:"id" jsonschema:"Prospect ID (required)"`
	Name     string `json:"name,omitempty" jsonschema:"Updated name"`
	Company  string `json:"company,omitempty" jsonschema:"Updated company"`
	Email    string `json:"email,omitempty" jsonschema:"Updated email address"`
	Phone    string `json:"phone,omitempty" jsonschema:"Updated phone number"`
	Stage    string `json:"stage,omitempty" jsonschema:"Updated stage"`
	Notes    string `json:"notes,omitempty" jsonschema:"Updated notes"`
	Priority string `json:"priority,omitempty" jsonschema:"Sync priority: high, normal or low"`
}

func (h *ProspectHandlers) UpdateProspect(ctx context.Context, _ *mcp.CallToolRequest, input UpdateProspectInput) (*mcp.CallToolResult, ProspectOutput, error) {
	if input.ID == "" {
		return nil, ProspectOutput{}, fmt.Errorf("id is required")
	}
	if input.Stage != "" && !models.ValidStage(input.Stage) {
		return nil, ProspectOutput{}, fmt.Errorf("invalid stage %q", input.Stage)
	}
	priority, err := models.ParsePriority(input.Priority)
	if err != nil {
		return nil, ProspectOutput{}, err
	}

	prospect, err := h.prospects.Get(ctx, input.ID)
	if err != nil {
		return nil, ProspectOutput{}, fmt.Errorf("failed to fetch prospect: %w", err)
	}
	if prospect == nil {
		return nil, ProspectOutput{}, fmt.Errorf("prospect not found: %s", input.ID)
	}

	if input.Name != "" {
		prospect.Name = input.Name
	}
	if input.Company != "" {
		prospect.Company = input.Company
	}
	if input.Email != "" {
		prospect.Email = input.Email
	}
	if input.Phone != "" {
		prospect.Phone = input.Phone
	}
	if input.Stage != "" {
		prospect.Stage = input.Stage
	}
	if input.Notes != "" {
		prospect.Notes = input.Notes
	}

	if err := h.prospects.Update(ctx, prospect, priority); err != nil {
		return nil, ProspectOutput{}, fmt.Errorf("failed to update prospect: %w", err)
	}
	return nil, prospectToOutput(prospect), nil
}

func prospectToOutput(p *models.Prospect) ProspectOutput {
	return ProspectOutput{
		ID:        p.ID,
		OwnerID:   p.OwnerID,
		Name:      p.Name,
		Company:   p.Company,
		Email:     p.Email,
		Phone:     p.Phone,
		Stage:     p.Stage,
		Notes:     p.Notes,
		UpdatedAt: p.UpdatedAt.Format(time.RFC3339),
		Synced:    p.Synced,
		SyncError: p.LastSyncError,
	}
}

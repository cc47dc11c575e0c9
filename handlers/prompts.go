// ABOUTME: MCP prompt handlers for reusable field sales workflows
// ABOUTME: Provides a prospect briefing before a visit and a triage prompt for failing sync items
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/fieldsync/db"
	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/repository"
)

type PromptHandlers struct {
	prospects *repository.Repository[*models.Prospect]
	visits    *repository.Repository[*models.Visit]
	ledger    *db.Ledger
}

func NewPromptHandlers(prospects *repository.Repository[*models.Prospect], visits *repository.Repository[*models.Visit], ledger *db.Ledger) *PromptHandlers {
	return &PromptHandlers{prospects: prospects, visits: visits, ledger: ledger}
}

// GetPrompt generates the prompt message based on the template
func (h *PromptHandlers) GetPrompt(ctx context.Context, request *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	switch request.Params.Name {
	case "prospect-briefing":
		return h.getProspectBriefingPrompt(ctx, request.Params.Arguments)
	case "sync-triage":
		return h.getSyncTriagePrompt(ctx)
	default:
		return nil, fmt.Errorf("unknown prompt: %s", request.Params.Name)
	}
}

func (h *PromptHandlers) getProspectBriefingPrompt(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	prospectID, ok := args["prospect_id"]
	if !ok || prospectID == "" {
		return nil, fmt.Errorf("prospect_id is required")
	}

	prospect, err := h.prospects.Get(ctx, prospectID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prospect: %w", err)
	}
	if prospect == nil {
		return nil, fmt.Errorf("prospect not found: %s", prospectID)
	}

	visits, err := h.visits.List(ctx, prospect.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch visits: %w", err)
	}

	var promptText strings.Builder
	promptText.WriteString("I am about to visit this prospect. Please brief me:\n\n")
	promptText.WriteString(fmt.Sprintf("Name: %s\n", prospect.Name))
	if prospect.Company != "" {
		promptText.WriteString(fmt.Sprintf("Company: %s\n", prospect.Company))
	}
	promptText.WriteString(fmt.Sprintf("Stage: %s\n", prospect.Stage))
	if prospect.Notes != "" {
		promptText.WriteString(fmt.Sprintf("Notes: %s\n", prospect.Notes))
	}

	var history []*models.Visit
	for _, v := range visits {
		if v.ProspectID == prospect.ID {
			history = append(history, v)
		}
	}
	if len(history) > 0 {
		promptText.WriteString(fmt.Sprintf("\nPrevious visits (%d):\n", len(history)))
		for _, v := range history {
			line := fmt.Sprintf("- %s %s", v.VisitedAt.Format("2006-01-02"), v.Kind)
			if v.Notes != "" {
				line += ": " + v.Notes
			}
			promptText.WriteString(line + "\n")
		}
	} else {
		promptText.WriteString("\nNo previous visits recorded.\n")
	}

	promptText.WriteString("\nPlease provide:")
	promptText.WriteString("\n1. A short recap of where this prospect stands")
	promptText.WriteString("\n2. Talking points for this visit")
	promptText.WriteString("\n3. What would move them to the next stage")

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Briefing for prospect: %s", prospect.Name),
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: promptText.String()},
			},
		},
	}, nil
}

func (h *PromptHandlers) getSyncTriagePrompt(ctx context.Context) (*mcp.GetPromptResult, error) {
	failed, err := h.ledger.List(ctx, db.ListFilter{Status: models.StatusFailed, Limit: 50})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ledger: %w", err)
	}

	var promptText strings.Builder
	if len(failed) == 0 {
		promptText.WriteString("There are no failing sync items. Confirm the device is fully synced.")
	} else {
		promptText.WriteString(fmt.Sprintf("These %d changes keep failing to reach the server:\n\n", len(failed)))
		for _, item := range failed {
			lastErr := "unknown error"
			if item.ErrorMessage != nil {
				lastErr = *item.ErrorMessage
			}
			promptText.WriteString(fmt.Sprintf("- #%d %s %s %s, attempt %d of %d: %s\n",
				item.ID, item.Operation, item.EntityType, item.EntityID, item.Attempts, item.MaxAttempts, lastErr))
		}
		promptText.WriteString("\nPlease group the failures by likely cause and suggest which items to retry.")
	}

	return &mcp.GetPromptResult{
		Description: "Triage failing sync items",
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: promptText.String()},
			},
		},
	}, nil
}

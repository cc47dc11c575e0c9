// ABOUTME: MCP server subcommand
// ABOUTME: Serves field CRM tools, ledger resources, and prompts over stdio while syncing in the background
package cli

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harperreed/fieldsync/handlers"
)

// NewMCPCommand creates the mcp command.
func NewMCPCommand(opts *RootOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				// stdout carries the protocol.
				if app.Config.Log.File == "" {
					_ = app.Logs.SetLevel("warn")
				}
				server, err := newMCPServer(app, version)
				if err != nil {
					return err
				}
				return serveMCP(ctx, app, server)
			})
		},
	}
}

func newMCPServer(app *App, version string) (*mcp.Server, error) {
	metrics, err := app.Metrics()
	if err != nil {
		return nil, err
	}

	visitHandlers := handlers.NewVisitHandlers(app.Visits, app.Config.OwnerID)
	prospectHandlers := handlers.NewProspectHandlers(app.Prospects, app.Config.OwnerID)
	syncHandlers := handlers.NewSyncHandlers(app.DB, app.Ledger, app.Monitor, app.Scheduler)
	metricsHandlers := handlers.NewMetricsHandlers(metrics, app.Config.OwnerID)
	resourceHandlers := handlers.NewResourceHandlers(app.DB, app.Ledger, app.Monitor)
	promptHandlers := handlers.NewPromptHandlers(app.Prospects, app.Visits, app.Ledger)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "fieldsync",
		Version: version,
	}, nil)

	// Register tools
	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_visit",
		Description: "Record a visit or check-in. Stored locally and delivered to the server when online",
	}, visitHandlers.AddVisit)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_visits",
		Description: "List visits for an owner, optionally for one prospect",
	}, visitHandlers.ListVisits)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_prospect",
		Description: "Add a new prospect",
	}, prospectHandlers.AddProspect)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_prospects",
		Description: "Search prospects by name or company, optionally filtered by stage",
	}, prospectHandlers.ListProspects)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_prospect",
		Description: "Update an existing prospect's details or stage",
	}, prospectHandlers.UpdateProspect)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_status",
		Description: "Show connectivity, queued changes, and the last sync run",
	}, syncHandlers.SyncStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_now",
		Description: "Deliver queued changes immediately",
	}, syncHandlers.SyncNow)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "retry_sync_item",
		Description: "Make a failed sync item eligible for the next run",
	}, syncHandlers.RetrySyncItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_metrics",
		Description: "Get an owner's sales metrics, optionally accepting a stale snapshot",
	}, metricsHandlers.GetMetrics)

	// Register resources
	server.AddResource(&mcp.Resource{
		URI:         "fieldsync://ledger",
		Name:        "ledger",
		Description: "Every sync item awaiting or recently finished delivery",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	server.AddResource(&mcp.Resource{
		URI:         "fieldsync://status",
		Name:        "status",
		Description: "Connectivity, ledger counts, and the last sync run",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "fieldsync://ledger/{id}",
		Name:        "ledger-item",
		Description: "A single sync item",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	// Register prompts
	server.AddPrompt(&mcp.Prompt{
		Name:        "prospect-briefing",
		Description: "Summarize a prospect and recent visits before the next meeting",
		Arguments: []*mcp.PromptArgument{
			{Name: "prospect_id", Description: "Prospect to brief on", Required: true},
		},
	}, promptHandlers.GetPrompt)

	server.AddPrompt(&mcp.Prompt{
		Name:        "sync-triage",
		Description: "Review failed sync items and suggest fixes",
	}, promptHandlers.GetPrompt)

	return server, nil
}

// serveMCP runs the server alongside the connectivity monitor and scheduler.
// The server returning, normally when the client closes stdin, stops the rest.
func serveMCP(ctx context.Context, app *App, server *mcp.Server) error {
	logger := app.Logs.Component("mcp")
	if err := app.RequeueOrphans(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	gctx, stop := context.WithCancel(gctx)
	g.Go(func() error {
		return app.Monitor.Watch(gctx, app.Config.Probe.Interval)
	})
	g.Go(func() error {
		return app.Scheduler.Run(gctx)
	})
	g.Go(func() error {
		defer stop()
		logger.Info("MCP server listening on stdio")
		return server.Run(gctx, &mcp.StdioTransport{})
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

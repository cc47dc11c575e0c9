// ABOUTME: Ledger CLI commands
// ABOUTME: Inspect queued sync items, retry failed ones, and purge finished or exhausted items
package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harperreed/fieldsync/db"
	"github.com/harperreed/fieldsync/models"
)

// NewLedgerCommand creates the ledger command group.
func NewLedgerCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and repair the sync ledger",
	}
	cmd.AddCommand(newLedgerListCommand(opts))
	cmd.AddCommand(newLedgerRetryCommand(opts))
	cmd.AddCommand(newLedgerPurgeCommand(opts))
	return cmd
}

func newLedgerListCommand(opts *RootOptions) *cobra.Command {
	var status, entity, format string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sync items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := db.ListFilter{Limit: limit}
			if status != "" {
				filter.Status = models.Status(strings.ToUpper(status))
				switch filter.Status {
				case models.StatusPending, models.StatusSyncing, models.StatusFailed, models.StatusCompleted:
				default:
					return fmt.Errorf("invalid status: %s", status)
				}
			}
			if entity != "" {
				et, err := models.ParseEntityType(strings.ToUpper(entity))
				if err != nil {
					return err
				}
				filter.EntityType = et
			}

			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				items, err := app.Ledger.List(ctx, filter)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if format != "text" {
					if items == nil {
						items = []models.SyncItem{}
					}
					return writeStructured(out, format, items)
				}
				if len(items) == 0 {
					fmt.Fprintln(out, "Ledger is empty")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tENTITY\tOP\tSTATUS\tPRIO\tATTEMPTS\tNEXT\tERROR")
				fmt.Fprintln(w, "--\t------\t--\t------\t----\t--------\t----\t-----")
				for _, item := range items {
					errMsg := "-"
					if item.ErrorMessage != nil {
						errMsg = truncate(*item.ErrorMessage, 50)
					}
					fmt.Fprintf(w, "%d\t%s/%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
						item.ID, item.EntityType, item.EntityID, item.Operation, item.Status, item.Priority,
						item.Attempts, item.MaxAttempts, formatMillis(item.ScheduledAt), errMsg)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only items with this status")
	cmd.Flags().StringVar(&entity, "entity", "", "only items for this entity type (visit|prospect)")
	cmd.Flags().IntVar(&limit, "limit", 100, "max items")
	cmd.Flags().StringVar(&format, "format", "text", "output format (text|json|yaml)")
	return cmd
}

func newLedgerRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [item-id]",
		Short: "Make a failed item eligible immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id: %s", args[0])
			}
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				if err := app.Ledger.Retry(ctx, id); err != nil {
					return fmt.Errorf("failed to retry item %d: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Item %d queued for the next run\n", id)
				return nil
			})
		},
	}
}

func newLedgerPurgeCommand(opts *RootOptions) *cobra.Command {
	var completedOlderThan time.Duration
	var exceeded bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove completed items and, optionally, items out of retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				age := completedOlderThan
				if !cmd.Flags().Changed("completed-older-than") {
					age = app.Config.Sync.CompletedRetention
				}
				out := cmd.OutOrStdout()

				n, err := app.Ledger.DeleteCompletedOlderThan(ctx, time.Now().Add(-age))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ Removed %d completed item(s)\n", n)

				if exceeded {
					n, err := app.Ledger.DeleteExceededAttempts(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "✓ Dropped %d item(s) out of retries\n", n)
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&completedOlderThan, "completed-older-than", 0, "age of completed items to remove (default: sync.completed_retention)")
	cmd.Flags().BoolVar(&exceeded, "exceeded", false, "also drop items that used up their retry budget")
	return cmd
}

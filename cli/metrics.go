// ABOUTME: Metrics CLI command
// ABOUTME: Shows the owner's metrics snapshot from the cache or the remote store
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/repository"
)

// NewMetricsCommand creates the metrics command group.
func NewMetricsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Sales metrics snapshots",
	}
	cmd.AddCommand(newMetricsShowCommand(opts))
	cmd.AddCommand(newMetricsInvalidateCommand(opts))
	return cmd
}

func newMetricsShowCommand(opts *RootOptions) *cobra.Command {
	var owner string
	var allowStale, refresh bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show metrics for an owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				ownerID, err := app.OwnerID(owner)
				if err != nil {
					return err
				}
				svc, err := app.Metrics()
				if err != nil {
					return err
				}

				var entry *models.CacheEntry
				if refresh {
					entry, err = svc.Refresh(ctx, ownerID)
				} else {
					entry, err = svc.Get(ctx, ownerID, allowStale)
				}
				if errors.Is(err, repository.ErrNoMetrics) {
					hint := ""
					if !allowStale {
						hint = "\nHint: pass --allow-stale to show an expired snapshot"
					}
					return fmt.Errorf("no metrics available for %s%s", ownerID, hint)
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				label := "fresh"
				if entry.IsStale {
					label = "stale"
				}
				fmt.Fprintf(out, "Metrics for %s (%s, cached %s)\n", ownerID, label, entry.CachedAt.Local().Format("2006-01-02 15:04"))
				var doc any
				if err := json.Unmarshal(entry.Data, &doc); err != nil {
					fmt.Fprintln(out, string(entry.Data))
					return nil
				}
				return writeStructured(out, "json", doc)
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (default: configured owner)")
	cmd.Flags().BoolVar(&allowStale, "allow-stale", false, "accept an expired snapshot when fresh data is unavailable")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cache and fetch from the server")
	return cmd
}

func newMetricsInvalidateCommand(opts *RootOptions) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Mark the cached snapshot stale so the next read refetches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				ownerID, err := app.OwnerID(owner)
				if err != nil {
					return err
				}
				svc, err := app.Metrics()
				if err != nil {
					return err
				}
				if err := svc.Invalidate(ownerID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Metrics for %s marked stale\n", ownerID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (default: configured owner)")
	return cmd
}

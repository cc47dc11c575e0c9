// ABOUTME: Visit CLI commands
// ABOUTME: add, list, update, and delete visits through the offline-first repository
package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harperreed/fieldsync/models"
)

// NewVisitCommand creates the visit command group.
func NewVisitCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "visit",
		Short: "Record and review field visits",
	}
	cmd.AddCommand(newVisitAddCommand(opts))
	cmd.AddCommand(newVisitListCommand(opts))
	cmd.AddCommand(newVisitUpdateCommand(opts))
	cmd.AddCommand(newVisitDeleteCommand(opts))
	return cmd
}

func newVisitAddCommand(opts *RootOptions) *cobra.Command {
	var owner, prospectID, kind, notes, priority string
	var lat, lng float64

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a visit or check-in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !models.ValidVisitKind(kind) {
				return fmt.Errorf("invalid kind: %s\nValid kinds: %s, %s", kind, models.VisitKindVisit, models.VisitKindCheckIn)
			}
			prio, err := models.ParsePriority(priority)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				ownerID, err := app.OwnerID(owner)
				if err != nil {
					return err
				}
				visit := &models.Visit{
					OwnerID:    ownerID,
					ProspectID: prospectID,
					Kind:       kind,
					Notes:      notes,
					Latitude:   lat,
					Longitude:  lng,
				}
				if err := app.Visits.Create(ctx, visit, prio); err != nil {
					return fmt.Errorf("failed to record visit: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Recorded %s %s (%s)\n", visit.Kind, visit.ID, syncLabel(visit.Synced))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (default: configured owner)")
	cmd.Flags().StringVar(&prospectID, "prospect", "", "prospect id")
	cmd.Flags().StringVar(&kind, "kind", models.VisitKindVisit, "visit or check_in")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().StringVar(&priority, "priority", "normal", "sync priority (high|normal|low)")
	return cmd
}

func newVisitListCommand(opts *RootOptions) *cobra.Command {
	var owner, prospectID, format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				ownerID, err := app.OwnerID(owner)
				if err != nil {
					return err
				}
				all, err := app.Visits.List(ctx, ownerID)
				if err != nil {
					return fmt.Errorf("failed to list visits: %w", err)
				}
				var visits []*models.Visit
				for _, v := range all {
					if prospectID == "" || v.ProspectID == prospectID {
						visits = append(visits, v)
					}
				}

				out := cmd.OutOrStdout()
				if format != "text" {
					return writeStructured(out, format, visits)
				}
				if len(visits) == 0 {
					fmt.Fprintln(out, "No visits found")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tWHEN\tKIND\tPROSPECT\tSYNC\tNOTES")
				fmt.Fprintln(w, "--\t----\t----\t--------\t----\t-----")
				for _, v := range visits {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						v.ID, v.VisitedAt.Local().Format("2006-01-02 15:04"), v.Kind,
						orDash(v.ProspectID), syncLabel(v.Synced), truncate(v.Notes, 40))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (default: configured owner)")
	cmd.Flags().StringVar(&prospectID, "prospect", "", "only visits to this prospect")
	cmd.Flags().StringVar(&format, "format", "text", "output format (text|json|yaml)")
	return cmd
}

func newVisitUpdateCommand(opts *RootOptions) *cobra.Command {
	var kind, notes, prospectID, priority string

	cmd := &cobra.Command{
		Use:   "update [visit-id]",
		Short: "Update a visit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prio, err := models.ParsePriority(priority)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				visit, err := app.Visits.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if visit == nil {
					return fmt.Errorf("visit not found: %s", args[0])
				}
				if cmd.Flags().Changed("kind") {
					if !models.ValidVisitKind(kind) {
						return fmt.Errorf("invalid kind: %s", kind)
					}
					visit.Kind = kind
				}
				if cmd.Flags().Changed("notes") {
					visit.Notes = notes
				}
				if cmd.Flags().Changed("prospect") {
					visit.ProspectID = prospectID
				}
				if err := app.Visits.Update(ctx, visit, prio); err != nil {
					return fmt.Errorf("failed to update visit: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Updated visit %s (%s)\n", visit.ID, syncLabel(visit.Synced))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "visit or check_in")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&prospectID, "prospect", "", "prospect id")
	cmd.Flags().StringVar(&priority, "priority", "normal", "sync priority (high|normal|low)")
	return cmd
}

func newVisitDeleteCommand(opts *RootOptions) *cobra.Command {
	var priority string

	cmd := &cobra.Command{
		Use:   "delete [visit-id]",
		Short: "Delete a visit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prio, err := models.ParsePriority(priority)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				if err := app.Visits.Delete(ctx, args[0], prio); err != nil {
					return fmt.Errorf("failed to delete visit: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted visit %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&priority, "priority", "normal", "sync priority (high|normal|low)")
	return cmd
}

// ABOUTME: Prospect CLI commands
// ABOUTME: add, list, update, and delete prospects through the offline-first repository
package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harperreed/fieldsync/models"
)

// NewProspectCommand creates the prospect command group.
func NewProspectCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prospect",
		Short: "Manage prospects",
	}
	cmd.AddCommand(newProspectAddCommand(opts))
	cmd.AddCommand(newProspectListCommand(opts))
	cmd.AddCommand(newProspectUpdateCommand(opts))
	cmd.AddCommand(newProspectDeleteCommand(opts))
	return cmd
}

type prospectFields struct {
	name, company, email, phone, stage, notes string
}

func (f *prospectFields) register(cmd *cobra.Command, defaultStage string) {
	cmd.Flags().StringVar(&f.name, "name", "", "prospect name")
	cmd.Flags().StringVar(&f.company, "company", "", "company")
	cmd.Flags().StringVar(&f.email, "email", "", "email address")
	cmd.Flags().StringVar(&f.phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&f.stage, "stage", defaultStage, "new|contacted|qualified|won|lost")
	cmd.Flags().StringVar(&f.notes, "notes", "", "notes")
}

func newProspectAddCommand(opts *RootOptions) *cobra.Command {
	var fields prospectFields
	var owner, priority string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a prospect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fields.name == "" {
				return fmt.Errorf("--name is required")
			}
			if !models.ValidStage(fields.stage) {
				return fmt.Errorf("invalid stage: %s", fields.stage)
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
				prospect := &models.Prospect{
					OwnerID: ownerID,
					Name:    fields.name,
					Company: fields.company,
					Email:   fields.email,
					Phone:   fields.phone,
					Stage:   fields.stage,
					Notes:   fields.notes,
				}
				if err := app.Prospects.Create(ctx, prospect, prio); err != nil {
					return fmt.Errorf("failed to add prospect: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Added prospect %s: %s (%s)\n", prospect.ID, prospect.Name, syncLabel(prospect.Synced))
				return nil
			})
		},
	}

	fields.register(cmd, models.StageNew)
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (default: configured owner)")
	cmd.Flags().StringVar(&priority, "priority", "normal", "sync priority (high|normal|low)")
	return cmd
}

func newProspectListCommand(opts *RootOptions) *cobra.Command {
	var owner, stage, query, format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prospects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				ownerID, err := app.OwnerID(owner)
				if err != nil {
					return err
				}
				all, err := app.Prospects.List(ctx, ownerID)
				if err != nil {
					return fmt.Errorf("failed to list prospects: %w", err)
				}
				q := strings.ToLower(query)
				var prospects []*models.Prospect
				for _, p := range all {
					if stage != "" && p.Stage != stage {
						continue
					}
					if q != "" && !strings.Contains(strings.ToLower(p.Name+" "+p.Company), q) {
						continue
					}
					prospects = append(prospects, p)
				}

				out := cmd.OutOrStdout()
				if format != "text" {
					return writeStructured(out, format, prospects)
				}
				if len(prospects) == 0 {
					fmt.Fprintln(out, "No prospects found")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tCOMPANY\tSTAGE\tSYNC")
				fmt.Fprintln(w, "--\t----\t-------\t-----\t----")
				for _, p := range prospects {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, orDash(p.Company), p.Stage, syncLabel(p.Synced))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (default: configured owner)")
	cmd.Flags().StringVar(&stage, "stage", "", "only prospects in this stage")
	cmd.Flags().StringVar(&query, "query", "", "search name and company")
	cmd.Flags().StringVar(&format, "format", "text", "output format (text|json|yaml)")
	return cmd
}

func newProspectUpdateCommand(opts *RootOptions) *cobra.Command {
	var fields prospectFields
	var priority string

	cmd := &cobra.Command{
		Use:   "update [prospect-id]",
		Short: "Update a prospect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prio, err := models.ParsePriority(priority)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				prospect, err := app.Prospects.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if prospect == nil {
					return fmt.Errorf("prospect not found: %s", args[0])
				}

				flags := cmd.Flags()
				if flags.Changed("name") {
					prospect.Name = fields.name
				}
				if flags.Changed("company") {
					prospect.Company = fields.company
				}
				if flags.Changed("email") {
					prospect.Email = fields.email
				}
				if flags.Changed("phone") {
					prospect.Phone = fields.phone
				}
				if flags.Changed("stage") {
					if !models.ValidStage(fields.stage) {
						return fmt.Errorf("invalid stage: %s", fields.stage)
					}
					prospect.Stage = fields.stage
				}
				if flags.Changed("notes") {
					prospect.Notes = fields.notes
				}

				if err := app.Prospects.Update(ctx, prospect, prio); err != nil {
					return fmt.Errorf("failed to update prospect: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Updated prospect %s (%s)\n", prospect.ID, syncLabel(prospect.Synced))
				return nil
			})
		},
	}

	fields.register(cmd, "")
	cmd.Flags().StringVar(&priority, "priority", "normal", "sync priority (high|normal|low)")
	return cmd
}

func newProspectDeleteCommand(opts *RootOptions) *cobra.Command {
	var priority string

	cmd := &cobra.Command{
		Use:   "delete [prospect-id]",
		Short: "Delete a prospect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prio, err := models.ParsePriority(priority)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				if err := app.Prospects.Delete(ctx, args[0], prio); err != nil {
					return fmt.Errorf("failed to delete prospect: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted prospect %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&priority, "priority", "normal", "sync priority (high|normal|low)")
	return cmd
}

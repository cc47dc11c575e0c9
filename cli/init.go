// ABOUTME: init command
// ABOUTME: Creates the database, assigns a device id, and writes the config file
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harperreed/fieldsync/config"
)

// NewInitCommand creates the init command.
func NewInitCommand(opts *RootOptions) *cobra.Command {
	var owner, remoteURL, remoteKind, probeAddress string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the local database and config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				cfg := app.Config
				if cfg.DeviceID == "" {
					cfg.DeviceID = config.GenerateDeviceID()
				}
				if owner != "" {
					cfg.OwnerID = owner
				}
				if remoteKind != "" {
					cfg.Remote.Kind = remoteKind
				}
				if remoteURL != "" {
					cfg.Remote.URL = remoteURL
				}
				if probeAddress != "" {
					cfg.Probe.Address = probeAddress
				}
				if err := cfg.Validate(); err != nil {
					return err
				}
				if err := config.Save(app.Loader.Path(), cfg); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "✓ Database ready at %s\n", cfg.DBPath)
				fmt.Fprintf(out, "✓ Config written to %s\n", app.Loader.Path())
				fmt.Fprintf(out, "  Device: %s\n", cfg.DeviceID)
				if cfg.OwnerID != "" {
					fmt.Fprintf(out, "  Owner:  %s\n", cfg.OwnerID)
				}
				if !cfg.RemoteConfigured() {
					fmt.Fprintln(out, "\nNo remote configured; changes will queue locally.")
					fmt.Fprintln(out, "Set remote.url in the config and FIELDSYNC_REMOTE_TOKEN to start syncing.")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "sales rep id that owns new records")
	cmd.Flags().StringVar(&remoteURL, "remote-url", "", "base URL of the remote document API")
	cmd.Flags().StringVar(&remoteKind, "remote-kind", "", "remote store kind (http|memory)")
	cmd.Flags().StringVar(&probeAddress, "probe-address", "", "host:port dialed to check reachability")
	return cmd
}
